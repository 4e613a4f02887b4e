package tracker

import "errors"

// ErrCatalogSetup indicates the schema_migrations catalog could not be created.
var ErrCatalogSetup = errors.New("setting up the migration catalog")

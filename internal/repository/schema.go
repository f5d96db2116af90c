package repository

import _ "embed"

// Schema creates every table and index the postgres repositories use. It is
// idempotent and applied at startup when DATABASE_AUTO_MIGRATE is set.
//
//go:embed schema.sql
var Schema string

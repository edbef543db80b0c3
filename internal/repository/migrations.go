package repository

import "embed"

// Migrations holds the goose SQL migrations for the CHES schema.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations holding the files.
const MigrationsDir = "migrations"

package main

import (
	"context"

	"github.com/pressly/goose/v3"

	"github.com/flare-portal/flare/fs"
)

var gooseRunFunc = goose.RunContext // mockable

func (cli *commandLine) migrate(args []string) error {
	dialect, dir := "postgres", "migrations/postgres"
	if cli.db.DriverName() == "sqlite" {
		dialect, dir = "sqlite3", "migrations/sqlite"
	}
	goose.SetBaseFS(appfs.FS)
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}

	return gooseRunFunc(context.Background(), args[0], cli.db.DB, dir, args[1:]...)
}

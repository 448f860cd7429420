package pg

import (
	"io/fs"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

type MigrateCommand string

const (
	MigrateUp     MigrateCommand = "up"
	MigrateDown   MigrateCommand = "down"
	MigrateStatus MigrateCommand = "status"
)

// Migrate runs a goose command against the write database. When fsys is not
// nil the migration files are read from it (dir is then relative to fsys),
// otherwise dir is a path on disk.
func Migrate(cfg Config, fsys fs.FS, dir string, cmd MigrateCommand) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "goose dialect")
	}
	goose.SetBaseFS(fsys)

	db, err := newSqlConnection(cfg)
	if err != nil {
		return errors.Wrap(err, "open migration connection")
	}
	defer db.Close()

	switch cmd {
	case MigrateUp:
		err = goose.Up(db, dir)
	case MigrateDown:
		err = goose.Down(db, dir)
	case MigrateStatus:
		err = goose.Status(db, dir)
	default:
		return errors.Errorf("unknown migrate command %q", cmd)
	}
	return errors.Wrapf(err, "migrate %s", cmd)
}

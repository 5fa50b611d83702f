package archive

import (
	"sort"

	"github.com/carmen-db/carmen/backend/bitmapindex"
	"github.com/carmen-db/carmen/common"
	"github.com/carmen-db/carmen/common/dbutils"
)

// Migration is one idempotent, named upgrade step over an already-open
// Archive, applied at most once per archive. Grounded on the teacher's
// migrations/migrations.go: Up functions do their own work against the live
// store (here, the archive's kv.Store) rather than a separate staging area,
// and the migrator tracks applied names so re-running Apply is a no-op.
type Migration struct {
	Name string
	Up   func(a *Archive) error
}

// migrations lists every migration in application order. Like the teacher's
// equivalent list, new entries are appended, never reordered or removed.
var migrations = []Migration{
	backfillAccountBlockIndex,
}

// Migrator applies a set of migrations against an Archive, skipping any
// already marked applied.
type Migrator struct {
	Migrations []Migration
}

// NewMigrator returns a Migrator carrying every known migration.
func NewMigrator() *Migrator {
	return &Migrator{Migrations: migrations}
}

// Apply runs every not-yet-applied migration against a, in order, recording
// each as applied as soon as it succeeds.
func (m *Migrator) Apply(a *Archive) error {
	if err := a.requireOpen(); err != nil {
		return err
	}
	if len(m.Migrations) == 0 {
		return nil
	}
	applied, err := a.appliedMigrations()
	if err != nil {
		return err
	}
	for _, mig := range m.Migrations {
		if applied[mig.Name] {
			continue
		}
		a.logger.Info("applying migration", "name", mig.Name)
		if err := mig.Up(a); err != nil {
			return common.NewIoError("archive: migration "+mig.Name+" failed", err)
		}
		if err := a.store.Add(dbutils.MigrationKey(mig.Name), []byte{1}); err != nil {
			return err
		}
		a.logger.Info("applied migration", "name", mig.Name)
	}
	return a.store.Flush()
}

func (a *Archive) appliedMigrations() (map[string]bool, error) {
	applied := make(map[string]bool)
	prefix := dbutils.MigrationKeyPrefix()
	cur, err := a.store.LowerBound(prefix)
	if err != nil {
		return nil, err
	}
	for cur.Valid() {
		key, err := cur.Key()
		if err != nil {
			return nil, err
		}
		if len(key) == 0 || key[0] != prefix[0] {
			break
		}
		name, ok := dbutils.DecodeMigrationKey(key)
		if !ok {
			break
		}
		applied[name] = true
		if err := cur.Next(); err != nil {
			return nil, err
		}
	}
	return applied, nil
}

// backfillAccountBlockIndex populates backend/bitmapindex for every account
// already present in an archive created before the index existed, by
// replaying each account's account_hash rows (one per block it was updated
// at) in ascending order.
var backfillAccountBlockIndex = Migration{
	Name: "backfill_account_block_index",
	Up: func(a *Archive) error {
		latest, has, err := a.getLatestBlock()
		if err != nil {
			return err
		}
		if !has {
			return nil
		}
		accounts, err := a.GetAccountList(latest)
		if err != nil {
			return err
		}
		for _, addr := range accounts {
			rows, err := a.scanProperty(dbutils.KeyTypeAccountHash, addr, latest)
			if err != nil {
				return err
			}
			blocks := make([]common.BlockId, 0, len(rows))
			for b := range rows {
				blocks = append(blocks, b)
			}
			sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })
			for _, b := range blocks {
				if err := bitmapindex.Update(a.store, addr, b); err != nil {
					return err
				}
			}
		}
		return nil
	},
}

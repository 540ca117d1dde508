// Package accounts provides the persistence layer for credential records.
//
// The Repository interface is implemented by SQLiteRepository over a
// dbx.DBTX, so the same code runs against the primary *sql.DB or inside a
// transaction (the re-key cascade uses the latter). The repository never sees
// plaintext passwords: callers encrypt before Create/Update and decrypt after
// reads.
//
// Typical usage
//
//	repo := accounts.NewSQLiteRepository(db)
//	_ = repo.Create(ctx, acc)
//	list, _ := repo.List(ctx)
//	ids, _ := repo.ListIDs(ctx)
//	_ = repo.UpdatePassword(ctx, id, ciphertext, time.Now())
package accounts

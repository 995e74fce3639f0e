package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/mediarelay/internal/dbx"
	"github.com/dmitrijs2005/mediarelay/internal/server/repositories/conversations"
	"github.com/dmitrijs2005/mediarelay/internal/server/repositories/messages"
	"github.com/dmitrijs2005/mediarelay/internal/server/repositories/participants"
	"github.com/dmitrijs2005/mediarelay/internal/server/repositories/readmarkers"
	"github.com/dmitrijs2005/mediarelay/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to either the pool or a
// transaction, so services can compose several writes under dbx.WithTx.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Conversations(db dbx.DBTX) conversations.Repository
	Participants(db dbx.DBTX) participants.Repository
	Messages(db dbx.DBTX) messages.Repository
	ReadMarkers(db dbx.DBTX) readmarkers.Repository
}

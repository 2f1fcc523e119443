package prowl

import (
	"github.com/ripkitten-co/prowl/internal/codecs"
	"github.com/ripkitten-co/prowl/internal/pg"
	"github.com/ripkitten-co/prowl/schema"
)

type backend struct {
	exec   pg.Executor
	codec  codecs.Codec
	schema *schema.Bootstrap
}

// Backend is implemented by Store and Session. Components built on
// PostgreSQL take a Backend so they work both on the pool and inside a
// transaction.
type Backend interface {
	DBExecutor() pg.Executor
	JSONCodec() codecs.Codec
	SchemaBootstrap() *schema.Bootstrap
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*Session)(nil)
)

package sqlunit

// Drivers available to persistence units: "sqlite" (pure Go) and "pgx".
import (
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

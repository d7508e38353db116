package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/shelfdb/shelfdb/internal/auth"
	"github.com/shelfdb/shelfdb/internal/config"
	"github.com/shelfdb/shelfdb/internal/conn"
	"github.com/shelfdb/shelfdb/internal/search"
	"github.com/shelfdb/shelfdb/internal/store"
	"github.com/shelfdb/shelfdb/internal/table"
	"github.com/shelfdb/shelfdb/internal/throttle"
	"github.com/shelfdb/shelfdb/pkg"
)

func main() {
	conf_path := flag.String("c", "config.yml", "path to the server configuration file")
	port := flag.Int("p", 0, "listening port (overrides the configured port)")
	workers := flag.Int("s", 0, "request worker count (overrides the configured count)")
	tcs := flag.Bool("tcs", false, "print the table creation script and exit")
	hash := flag.String("hash", "", "print the password hash for the admin_hash config key and exit")
	should_log := flag.Bool("log", true, "enable logging")
	debug := flag.Bool("dbg", false, "show debug logs")
	log_path := flag.String("logfile", "", "also write logs to this file")

	flag.Parse()

	if *hash != "" {
		hashed, err := auth.HashPassword(*hash)
		if err != nil {
			pkg.FatalLog(err)
		}
		fmt.Println(hashed)
		return
	}

	if *log_path != "" {
		f, err := os.OpenFile(*log_path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			pkg.FatalLog(err)
		}
		defer f.Close()
		pkg.SetLogFile(f)
	}
	if !*should_log {
		pkg.SetLogLevel(pkg.LogLevelNone)
	} else if *debug {
		pkg.SetLogLevel(pkg.LogLevelDebug)
	} else {
		pkg.SetLogLevel(pkg.LogLevelErrOnly)
	}

	conf, err := config.Load(*conf_path)
	if err != nil {
		pkg.FatalLog(err)
	}
	if *port != 0 {
		conf.Port = *port
	}
	if *workers != 0 {
		conf.Workers = *workers
	}

	backing := store.NewStore(conf.Store)
	defer backing.Close()

	set, err := table.BuildTableSet(conf.Tables, backing, conf.StructureTable, conf.IDFormat, conf.Dedup)
	if err != nil {
		pkg.FatalLog(err)
	}

	if *tcs {
		fmt.Print(set.CreationSQL())
		return
	}

	count, err := set.LoadAll()
	if err != nil {
		pkg.FatalLog(err)
	}
	pkg.InfoLog("loaded", count, "rows in", len(set.Tables()), "tables")

	if err := set.Link(); err != nil {
		pkg.FatalLog(err)
	}

	primary := set.ByAlias(conf.PrimaryTable)
	if primary == nil {
		pkg.FatalLog("unknown primary table alias", conf.PrimaryTable)
	}

	builder, err := search.NewResultBuilder(set, primary, conf.ResultColumns)
	if err != nil {
		pkg.FatalLog(err)
	}

	// structure matching is an external collaborator; without one the
	// server answers alphanumeric queries only
	engine := search.NewEngine(set, primary, nil, builder,
		conf.MaxStructureHits, conf.MaxNonStructureHits)

	authority := auth.NewAuthority(conf.AdminUser, conf.AdminHash, backing)
	gate := throttle.NewGate(conf.ThrottleCeiling, conf.ThrottleWindow)

	server := conn.NewServer(set, engine, authority, gate, conf.Workers)
	server.Listen(conf.Port)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/IMQS/cli"
	"github.com/IMQS/gowinsvc/service"
	"github.com/dockyard-archive/dockyard/chapters"
	"github.com/dockyard-archive/dockyard/config"
	"github.com/dockyard-archive/dockyard/gateway"
	"github.com/dockyard-archive/dockyard/server"
	"github.com/dockyard-archive/dockyard/store"
	_ "github.com/lib/pq"
)

func main() {
	app := cli.App{}
	app.Description = "dockyard -c=configfile [options] command"
	app.DefaultExec = exec
	app.AddCommand("search", "Run the archive search service")
	app.AddCommand("history", "Run the history chapters service")
	app.AddCommand("dockyardlife", "Run the dockyard life chapters service")
	app.AddCommand("gateway", "Run the API gateway")
	app.AddCommand("find", "Search the archive from the command line", "...term")
	app.AddCommand("seed", "Replace the contents of a collection with the JSON array of documents in a file",
		"collection", "file")
	app.AddValueOption("c", "configfile", "Configuration file if not using the configuration service")
	app.AddValueOption("port", "number", "HTTP port to listen on, overriding the config file")
	os.Exit(app.Run())
}

func exec(cmdName string, args []string, options cli.OptionSet) int {
	cfg := &config.Config{}
	if err := cfg.LoadFile(options["c"]); err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return 1
	}
	if port := options["port"]; port != "" {
		cfg.HTTP.Port = port
	}

	db := store.New(cfg.Database)
	defer db.Close()

	start := time.Now()
	var err error

	switch cmdName {
	case "search":
		err = runSearch(cfg, db)
	case "history":
		err = runChapters(chapters.History, cfg, db)
	case "dockyardlife":
		err = runChapters(chapters.DockyardLife, cfg, db)
	case "gateway":
		err = runGateway(cfg)
	case "find":
		err = find(cfg, db, strings.Join(args, " "))
	case "seed":
		if len(args) != 2 {
			fmt.Printf("seed needs a collection and a file\n")
			return 1
		}
		err = seed(db, args[0], args[1])
	default:
		fmt.Printf("Unknown command %v\n", cmdName)
		return 1
	}

	if err == nil {
		fmt.Printf("Finished in %.3v seconds\n", time.Now().Sub(start).Seconds())
		return 0
	} else {
		fmt.Printf("Error: %v\n", err)
		return 1
	}
}

// runAsService runs the HTTP server as an OS service, if we were launched by the service manager
func runAsService(runHttp func() error, onError func(error)) {
	run := func() {
		if err := runHttp(); err != nil {
			onError(err)
		}
	}
	if !service.RunAsService(run) {
		run()
	}
}

func newSearchEngine(cfg *config.Config, db *store.Store) (*server.Engine, error) {
	engine := &server.Engine{
		Config: cfg,
		Source: db,
	}
	if err := engine.Initialize(); err != nil {
		if engine.ErrorLog != nil {
			engine.ErrorLog.Error(err.Error())
		}
		return nil, fmt.Errorf("Error initializing search engine: %v", err)
	}
	return engine, nil
}

func runSearch(cfg *config.Config, db *store.Store) error {
	engine, err := newSearchEngine(cfg, db)
	if err != nil {
		return err
	}
	defer engine.Close()

	// A failed initial load is logged by Reload. We still serve /health, which reports that we
	// are not ready.
	engine.Reload(context.Background())
	if err := engine.StartDailyReload(); err != nil {
		return err
	}
	runAsService(engine.RunHttp, func(err error) {
		engine.ErrorLog.Errorf("Error running HTTP server: %v", err)
	})
	return nil
}

func runChapters(book chapters.Book, cfg *config.Config, db *store.Store) error {
	svc := chapters.New(book, cfg, db)
	defer svc.Close()
	svc.Load(context.Background())
	runAsService(svc.RunHttp, func(err error) {
		svc.ErrorLog.Errorf("Error running HTTP server: %v", err)
	})
	return nil
}

func runGateway(cfg *config.Config) error {
	gw, err := gateway.New(cfg)
	if err != nil {
		return err
	}
	defer gw.Close()
	runAsService(gw.RunHttp, func(err error) {
		gw.ErrorLog.Errorf("Error running HTTP server: %v", err)
	})
	return nil
}

func find(cfg *config.Config, db *store.Store, term string) error {
	engine, err := newSearchEngine(cfg, db)
	if err != nil {
		return err
	}
	defer engine.Close()
	if _, err := engine.Reload(context.Background()); err != nil {
		return err
	}
	res, err := engine.Find(&server.Query{Text: term})
	if err != nil {
		return err
	}
	fmt.Printf("%-18v %10v %5v  %v\n", "Collection", "ID", "Score", "Title")
	for _, r := range res.Rows {
		fmt.Printf("%-18v %10v %5v  %v\n", r.Record.Collection(), r.Record.RecordID(), r.Score, server.Title(r.Record))
	}
	fmt.Printf("%v results\n", len(res.Rows))
	return nil
}

func seed(db *store.Store, collection, filename string) error {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	docs := []json.RawMessage{}
	if err := json.Unmarshal(raw, &docs); err != nil {
		return fmt.Errorf("%v must contain a JSON array of documents: %v", filename, err)
	}
	if err := db.ReplaceCollection(context.Background(), collection, docs); err != nil {
		return err
	}
	fmt.Printf("Replaced %v with %v documents\n", collection, len(docs))
	return nil
}

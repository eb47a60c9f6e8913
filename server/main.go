package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"card-arena/server/arena"
	"card-arena/server/catalog"
	"card-arena/server/chain"
	"card-arena/server/effects"
	"card-arena/server/session"
	"card-arena/server/store"
	"card-arena/server/txn"

	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	_ = godotenv.Load()

	var migrate bool
	for _, a := range os.Args[1:] {
		switch a {
		case "--migrate":
			migrate = true
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}
	logs := newLoggers(cfg.LogLevel)

	if migrate {
		if cfg.DatabaseURL == "" {
			log.Fatal("Missing required env var DATABASE_URL for --migrate.")
		}
		db, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatal(err)
		}
		defer db.Close(context.Background())
		db.Log = logs.get(tagStore)
		if err := store.Migrate(context.Background(), db); err != nil {
			log.Fatal(err)
		}
		log.Println("migrated")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchSignals(cancel)

	registry, err := chain.LoadRegistry(cfg.NetworksFile)
	if err != nil {
		log.Fatal(err)
	}
	network, err := registry.Resolve(cfg.Network, chain.NetworkOverrides{
		RPCURL:      cfg.RPCURL,
		PackageID:   cfg.PackageID,
		ExplorerURL: cfg.ExplorerURL,
	})
	if err != nil {
		log.Fatal(err)
	}
	cards, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		log.Fatal(err)
	}

	node, err := chain.NewClient(chain.ClientConfig{URL: network.RPCURL, Timeout: cfg.RPCTimeout, Log: logs.get(tagChain)})
	if err != nil {
		log.Fatal(err)
	}
	signer, err := chain.NewSignerClient(chain.SignerConfig{
		URL: cfg.SignerURL, Token: cfg.SignerToken, Timeout: cfg.SubmitTimeout, Log: logs.get(tagChain),
	})
	if err != nil {
		log.Fatal(err)
	}
	account := strings.TrimSpace(cfg.Account)
	if account == "" {
		actx, acancel := context.WithTimeout(ctx, cfg.RPCTimeout)
		account, err = signer.Address(actx)
		acancel()
		if err != nil {
			log.Fatalf("no ACCOUNT_ADDRESS and signer did not report one: %v", err)
		}
	}
	if !txn.ValidID(account) {
		log.Fatalf("ACCOUNT_ADDRESS %q is not a valid address", account)
	}

	// Journal is optional: the game works without a database.
	var db *store.DB
	var journal txn.Journal
	var resolutions arena.ResolutionJournal
	var history historySource
	if cfg.DatabaseURL != "" {
		p, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			log.Printf("DB disabled (open failed): %v", err)
		} else {
			db = p
			defer db.Close(context.Background())
			db.Log = logs.get(tagStore)
			db.Network, db.Sender = network.Name, account
			if cfg.AutoMigrate {
				if err := store.Migrate(ctx, db); err != nil {
					db.Log.Warnf("continuing without DB")
					db = nil
				}
			}
		}
	}
	if db != nil {
		journal, resolutions, history = db, db, db
	}

	builder, err := txn.NewBuilder(network.PackageID)
	if err != nil {
		log.Fatal(err)
	}
	dispatcher, err := txn.NewDispatcher(txn.DispatcherConfig{
		Log: logs.get(tagTxn), Signer: signer, Journal: journal, SubmitTimeout: cfg.SubmitTimeout,
	})
	if err != nil {
		log.Fatal(err)
	}
	resolver, err := effects.New(effects.Config{
		Log:         logs.get(tagEffects),
		Querier:     node,
		MaxAttempts: cfg.ResolveTries,
		BaseDelay:   cfg.ResolveDelay,
		MaxElapsed:  cfg.ResolveElapsed,
		SessionType: "::game::Game",
	})
	if err != nil {
		log.Fatal(err)
	}
	coord, err := session.NewCoordinator(session.CoordinatorConfig{
		Log:       logs.get(tagSession),
		Querier:   node,
		Owner:     account,
		GameType:  builder.StructType("game", "Game"),
		LobbyType: builder.StructType("game", "Lobby"),
	})
	if err != nil {
		log.Fatal(err)
	}
	ar, err := arena.New(arena.Config{
		Log:            logs.get(tagArena),
		Inventory:      node,
		Builder:        builder,
		Dispatcher:     dispatcher,
		Resolver:       resolver,
		Coordinator:    coord,
		Catalog:        cards,
		Journal:        resolutions,
		Opponent:       cfg.Opponent,
		RefreshTimeout: cfg.RPCTimeout,
	})
	if err != nil {
		log.Fatal(err)
	}

	if _, err := coord.Refresh(ctx); err != nil {
		log.Printf("initial session refresh failed: %v", err)
	}

	handler := Router(&api{
		log:      logs.get(tagHTTP),
		arena:    ar,
		coord:    coord,
		network:  network,
		catalog:  cards,
		history:  history,
		timeout:  cfg.ActionTimeout,
		upgrader: newUpgrader(),
	})
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: handler, ReadHeaderTimeout: 15 * time.Second}

	go func() {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		coord.Close()
		_ = srv.Shutdown(sctx)
	}()

	log.Printf("%s account %s, package %s", network.Name, account, network.PackageID)
	log.Printf("listening on http://localhost:%s (Ctrl+C to stop)", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	ar.Wait()
}

func watchSignals(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	cancel()
}

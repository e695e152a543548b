package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"orgchat/cache"
	"orgchat/config"
	"orgchat/crypto"
	"orgchat/directory"
	"orgchat/engine"
	"orgchat/keystore"
	"orgchat/models"
	"orgchat/ratelimit"
	"orgchat/realtime"
	"orgchat/storage"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("ORGCHAT_DEBUG") != "" {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("component", "main")

	cfg, _, err := config.LoadOrCreate()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	dataDir, err := config.ResolveDataDir()
	if err != nil {
		log.WithError(err).Fatal("resolve data directory")
	}

	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		log.WithError(err).Fatal("open message store")
	}
	log.WithField("db", dbPath).Debug("message store open")
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("close message store")
		}
	}()

	var dir directory.Directory
	if cfg.EnableMDNS {
		lan := directory.NewLANDirectory(directory.MDNSConfig{})
		defer lan.Close()
		dir = lan
	} else {
		dir = directory.NewStoreDirectory(store, cfg.OrgID)
	}

	fileStorage, err := keystore.NewFileStorage(config.KeysDir(dataDir))
	if err != nil {
		log.WithError(err).Fatal("open key storage")
	}
	keys := keystore.New(fileStorage, dir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	identity, err := keys.EnsureIdentity(ctx, cfg.UserID)
	if err != nil {
		log.WithError(err).Fatal("ensure identity")
	}
	defer keys.Close()

	// Re-publish with the configured profile so peers see the display name.
	profile := models.Profile{UserID: cfg.UserID, DisplayName: cfg.DisplayName, AvatarURL: cfg.AvatarURL}
	if err := dir.Publish(ctx, profile, identity.KeyPair.Public); err != nil {
		log.WithError(err).Warn("publish profile")
	}

	caches := cache.New(time.Duration(cfg.CacheTTLSeconds) * time.Second)
	limiter := ratelimit.New(cfg.RateBudget)

	eng, err := engine.New(engine.Config{
		OrgID:           cfg.OrgID,
		UserID:          cfg.UserID,
		ThreadPageSize:  cfg.PageSize,
		MessagePageSize: cfg.PageSize,
	}, store, dir, keys, caches, limiter)
	if err != nil {
		log.WithError(err).Fatal("build engine")
	}

	feed, err := realtime.Start(store, cfg.OrgID, eng)
	if err != nil {
		log.WithError(err).Fatal("start realtime sync")
	}
	defer feed.Close()

	log.WithFields(logrus.Fields{
		"org_id":      cfg.OrgID,
		"user_id":     cfg.UserID,
		"fingerprint": crypto.FormatFingerprint(identity.Fingerprint()),
	}).Info("session ready")

	<-ctx.Done()
	log.Info("shutting down")
}

// Command dhtd is the minimal wiring entrypoint: config -> identity ->
// storage -> RPC transport -> dhtnode.Node -> metrics. It runs no lookup
// driver (spec.md §1 Non-goals exclude the routing-table state machine),
// so the node it builds answers pings and serves its local storage mirror
// only; a caller wanting full network lookups supplies a LookupDriver via
// dhtnode.Config itself.
package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"net"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/sirupsen/logrus"

	"github.com/bosonnetwork/godht/dhtnode"
	"github.com/bosonnetwork/godht/identity"
	"github.com/bosonnetwork/godht/kadid"
	"github.com/bosonnetwork/godht/memstore"
	"github.com/bosonnetwork/godht/metrics"
	pkgconfig "github.com/bosonnetwork/godht/pkg/config"
	"github.com/bosonnetwork/godht/rpc"
	"github.com/bosonnetwork/godht/sqlstore"
	"github.com/bosonnetwork/godht/storage"
	"github.com/bosonnetwork/godht/xcrypto"
)

func main() {
	log := logrus.NewEntry(logrus.New())

	cfg, err := pkgconfig.LoadFromEnv()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	id, err := loadOrGenerateIdentity(cfg.PrivateKeySeedHex)
	if err != nil {
		log.WithError(err).Fatal("build identity")
	}
	log = log.WithField("id", id.Id().String())

	store, err := openStorage(cfg.StorageURI, cfg.SchemaName)
	if err != nil {
		log.WithError(err).Fatal("open storage")
	}
	defer store.Close()

	var col *metrics.Collector
	if cfg.EnableMetrics {
		col = metrics.New(log)
	}

	if col != nil {
		switch st := store.(type) {
		case *memstore.Store:
			st.SetMetrics(col)
		case *sqlstore.Store:
			st.SetMetrics(col)
		}

		metricsSrv := col.StartServer(cfg.MetricsAddr)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := col.Shutdown(ctx, metricsSrv); err != nil {
				log.WithError(err).Warn("metrics server shutdown")
			}
		}()
	}

	laddr, err := bindAddr(cfg.Host4, cfg.Host6, cfg.Port)
	if err != nil {
		log.WithError(err).Fatal("resolve bind address")
	}

	server, err := rpc.NewRpcServer(id, laddr, pingHandler(), log, rpc.WithMetrics(col))
	if err != nil {
		log.WithError(err).Fatal("start rpc server")
	}

	node, err := dhtnode.New(dhtnode.Config{Identity: id, Server: server, Storage: store})
	if err != nil {
		log.WithError(err).Fatal("build node")
	}

	valueExp, err := time.ParseDuration(cfg.ValueExpiration)
	if err != nil {
		log.WithError(err).Fatal("parse value_expiration")
	}
	peerExp, err := time.ParseDuration(cfg.PeerExpiration)
	if err != nil {
		log.WithError(err).Fatal("parse peer_expiration")
	}
	go purgeLoop(node, valueExp, peerExp, log)

	log.WithField("addr", laddr.String()).Info("dhtd listening")
	if err := node.Start(); err != nil {
		log.WithError(err).Fatal("rpc server stopped")
	}
}

// loadOrGenerateIdentity derives an identity from an Ed25519 seed if one is
// configured (spec §6's privateKey), otherwise generates a random one.
func loadOrGenerateIdentity(seedHex string) (identity.Identity, error) {
	if seedHex == "" {
		return identity.Generate()
	}
	seed, err := hex.DecodeString(strings.TrimPrefix(seedHex, "0x"))
	if err != nil {
		return nil, err
	}
	kp, err := xcrypto.KeyPairFromSeed(seed)
	if err != nil {
		return nil, err
	}
	return identity.New(kp)
}

// openStorage dispatches on storageURI's scheme: "sqlite://<path>" or
// "postgres://<dsn>" select the relational backend; anything else (or an
// empty URI) falls back to the in-memory store (spec.md §6). schemaName is
// only meaningful for the postgres backend (spec §4.13 step 2).
func openStorage(uri, schemaName string) (storage.DataStorage, error) {
	switch {
	case uri == "":
		return memstore.New(0, 0), nil
	case strings.HasPrefix(uri, "sqlite://"):
		return openSQL(strings.TrimPrefix(uri, "sqlite://"), "sqlite", schemaName)
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		return openSQL(uri, "postgres", schemaName)
	default:
		return memstore.New(0, 0), nil
	}
}

func openSQL(dsn, driverName, schemaName string) (storage.DataStorage, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return sqlstore.Open(ctx, db, driverName, schemaName, "dhtd", 4)
}

func bindAddr(host4, host6 string, port int) (*net.UDPAddr, error) {
	host := host4
	if host == "" {
		host = host6
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
}

// pingHandler answers MethodPing with an empty response and leaves every
// other method unanswered: dispatching findNode/findValue/findPeer/
// storeValue/announcePeer onto the storage mirror belongs to the lookup
// driver this command does not build (spec.md §1 Non-goals). RPCReceived is
// recorded by the rpc.RpcServer itself (via WithMetrics), not here.
func pingHandler() rpc.Handler {
	return func(senderId kadid.Id, addr *net.UDPAddr, msg *rpc.Message) *rpc.Message {
		if msg.Method != rpc.MethodPing || msg.Type != rpc.TypeRequest {
			return nil
		}
		return &rpc.Message{Method: rpc.MethodPing, Type: rpc.TypeResponse, Txid: msg.Txid, Version: msg.Version}
	}
}

func purgeLoop(n *dhtnode.Node, valueExp, peerExp time.Duration, log *logrus.Entry) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		values, peers, err := n.Purge(valueExp, peerExp)
		if err != nil {
			log.WithError(err).Warn("purge failed")
			continue
		}
		log.WithField("values", values).WithField("peers", peers).Debug("purge complete")
	}
}

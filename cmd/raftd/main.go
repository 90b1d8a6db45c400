// Command raftd runs a single raftactor cluster member: a gRPC-served
// consensus actor backed by crash-durable file storage, fronted by a small
// HTTP API onto an in-memory key-value state machine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lattice-run/raftactor/pkg/api"
	"github.com/lattice-run/raftactor/pkg/cluster"
	"github.com/lattice-run/raftactor/pkg/raft"
	"github.com/lattice-run/raftactor/pkg/reactor"
	"github.com/lattice-run/raftactor/pkg/statemachine/kv"
	grpctransport "github.com/lattice-run/raftactor/pkg/transport/grpc"
	"github.com/lattice-run/raftactor/pkg/walstore"
)

func main() {
	nodeID := flag.String("id", "", "node id")
	addr := flag.String("addr", "", "gRPC listen address (e.g. localhost:5000)")
	httpAddr := flag.String("http", "", "HTTP API listen address (e.g. localhost:8000)")
	peers := flag.String("peers", "", "comma-separated id=addr peer list, including this node")
	dataDir := flag.String("data", "", "directory for crash-durable state")
	flag.Parse()

	if *nodeID == "" || *addr == "" || *httpAddr == "" {
		flag.Usage()
		os.Exit(1)
	}

	peerAddrs := make(map[cluster.NodeID]string)
	var peerIDs []cluster.NodeID
	if *peers != "" {
		for _, entry := range strings.Split(*peers, ",") {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				continue
			}
			id := cluster.NodeID(parts[0])
			peerAddrs[id] = parts[1]
			if parts[0] != *nodeID {
				peerIDs = append(peerIDs, id)
			}
		}
	}
	peerAddrs[cluster.NodeID(*nodeID)] = *addr

	dir := *dataDir
	if dir == "" {
		dir = fmt.Sprintf("/tmp/raftactor-%s", *nodeID)
	}

	log.Printf("raftd: starting node %s (grpc=%s http=%s peers=%v data=%s)", *nodeID, *addr, *httpAddr, peerIDs, dir)

	store, err := walstore.NewFileStore(dir)
	if err != nil {
		log.Fatalf("raftd: open file store: %v", err)
	}

	stateMachine := kv.New()
	transport := grpctransport.New(*addr, peerAddrs)

	roster := cluster.NewRoster(cluster.NodeID(*nodeID), peerIDs)
	loop := reactor.NewLoop()
	actor := raft.NewActor(cluster.NodeID(*nodeID), roster, store, transport, stateMachine, loop, raft.DefaultOptions())

	if err := transport.Start(actor); err != nil {
		log.Fatalf("raftd: start grpc transport: %v", err)
	}
	actor.Run()

	httpServer := &http.Server{
		Addr:    *httpAddr,
		Handler: api.New(actor, stateMachine),
	}
	go func() {
		log.Printf("raftd: http api listening on %s", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("raftd: http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("raftd: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)
	transport.Stop()
	actor.Stop()
	loop.Close()
	store.Close()
	log.Println("raftd: shutdown complete")
}

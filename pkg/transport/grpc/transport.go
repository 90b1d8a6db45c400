// Package grpc adapts raft.Transport / raft.Server onto google.golang.org/grpc:
// one listener per node, one lazily dialed client connection per peer,
// reused across calls.
package grpc

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/lattice-run/raftactor/pkg/cluster"
	"github.com/lattice-run/raftactor/pkg/raft"
)

// Transport is both the client side of raft.Transport (dialing peers) and
// the hosting side of raft.Server (serving this node's inbound RPCs).
type Transport struct {
	mu sync.RWMutex

	localAddr string
	peerAddrs map[cluster.NodeID]string
	timeout   time.Duration

	server   *gogrpc.Server
	listener net.Listener

	conns   map[cluster.NodeID]*gogrpc.ClientConn
	clients map[cluster.NodeID]gogrpc.ClientConnInterface
}

// New builds a transport bound to localAddr that knows how to reach
// peerAddrs. An entry for the local node may be present; the actor never
// dials itself. Call Start to begin serving.
func New(localAddr string, peerAddrs map[cluster.NodeID]string) *Transport {
	return &Transport{
		localAddr: localAddr,
		peerAddrs: peerAddrs,
		timeout:   5 * time.Second,
		conns:     make(map[cluster.NodeID]*gogrpc.ClientConn),
		clients:   make(map[cluster.NodeID]gogrpc.ClientConnInterface),
	}
}

// Start opens localAddr and begins serving inbound RPCs to server.
func (t *Transport) Start(server raft.Server) error {
	listener, err := net.Listen("tcp", t.localAddr)
	if err != nil {
		return fmt.Errorf("raft/grpc: listen %s: %w", t.localAddr, err)
	}
	t.mu.Lock()
	t.listener = listener
	t.server = gogrpc.NewServer()
	t.mu.Unlock()

	t.server.RegisterService(&serviceDesc, server)

	go func() {
		if err := t.server.Serve(listener); err != nil {
			log.Printf("raft/grpc: server on %s stopped: %v", t.localAddr, err)
		}
	}()
	return nil
}

// Stop closes every outbound connection and shuts the server down.
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, conn := range t.conns {
		conn.Close()
	}
	if t.server != nil {
		t.server.GracefulStop()
	}
}

func (t *Transport) clientFor(target cluster.NodeID) (gogrpc.ClientConnInterface, error) {
	t.mu.RLock()
	if c, ok := t.clients[target]; ok {
		t.mu.RUnlock()
		return c, nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[target]; ok {
		return c, nil
	}

	addr, ok := t.peerAddrs[target]
	if !ok {
		return nil, fmt.Errorf("raft/grpc: unknown peer %q", target)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := gogrpc.DialContext(ctx, addr,
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithDefaultCallOptions(gogrpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("raft/grpc: dial %s: %w", addr, err)
	}
	t.conns[target] = conn
	t.clients[target] = conn
	return conn, nil
}

func (t *Transport) AppendEntries(ctx context.Context, target cluster.NodeID, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	client, err := t.clientFor(target)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	resp := new(raft.AppendEntriesResponse)
	if err := client.Invoke(ctx, "/raftactor.RaftService/AppendEntries", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *Transport) InstallSnapshot(ctx context.Context, target cluster.NodeID, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	client, err := t.clientFor(target)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout*2)
	defer cancel()
	resp := new(raft.InstallSnapshotResponse)
	if err := client.Invoke(ctx, "/raftactor.RaftService/InstallSnapshot", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *Transport) RequestVote(ctx context.Context, target cluster.NodeID, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	client, err := t.clientFor(target)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	resp := new(raft.RequestVoteResponse)
	if err := client.Invoke(ctx, "/raftactor.RaftService/RequestVote", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

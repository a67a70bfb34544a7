package node

import (
	"bytes"
	"fmt"
	"net"
	"net/http"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"
	tmos "github.com/tendermint/tendermint/libs/os"
	"github.com/tendermint/tendermint/libs/service"
	"github.com/tendermint/tendermint/p2p"
	"github.com/tendermint/tendermint/p2p/conn"
	rpcserver "github.com/tendermint/tendermint/rpc/jsonrpc/server"

	cfg "slotchain/config"
	"slotchain/consensus"
	"slotchain/libs/metric"
	mempl "slotchain/mempool"
	"slotchain/privval"
	"slotchain/rpc"
	sm "slotchain/state"
	"slotchain/store"
	"slotchain/types"
)

// Provider takes a config and a logger and returns a ready to go Node.
type Provider func(*cfg.Config, log.Logger) (*Node, error)

type Node struct {
	service.BaseService

	// config
	config     *cfg.Config
	genesisDoc *types.GenesisDoc
	privVal    types.PrivValidator // nil on observers

	// network
	transport *p2p.MultiplexTransport
	sw        *p2p.Switch // p2p connections
	nodeInfo  p2p.NodeInfo
	nodeKey   *p2p.NodeKey // our node privkey

	// services
	blockStore       *store.BlockStore
	memberPool       *sm.MemberPool
	mempool          *mempl.ListMempool
	mempoolReactor   *mempl.Reactor
	consensusState   *consensus.ConsensusState
	consensusReactor *consensus.Reactor
	metricSet        *metric.MetricSet
	rpcEnv           *rpc.Environment
	rpcListeners     []net.Listener
}

type Option func(*Node)

// DefaultNewNode reads the genesis, node key and identity key files named by
// config. Without an identity key file the node runs as an observer.
func DefaultNewNode(config *cfg.Config, logger log.Logger) (*Node, error) {
	nodeKey, err := p2p.LoadOrGenNodeKey(config.NodeKeyFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load or gen node key %s: %w", config.NodeKeyFile(), err)
	}
	genDoc, err := types.GenesisDocFromFile(config.GenesisFile())
	if err != nil {
		return nil, err
	}

	var pv types.PrivValidator
	if tmos.FileExists(config.PrivValidatorKeyFile()) {
		filePV, err := privval.LoadFilePV(config.PrivValidatorKeyFile())
		if err != nil {
			return nil, err
		}
		pv = filePV
	} else {
		logger.Info("No identity key, running as observer", "keyFile", config.PrivValidatorKeyFile())
	}

	return NewNode(config, pv, nodeKey, genDoc, logger)
}

func createTransport(
	config *cfg.Config,
	nodeInfo p2p.NodeInfo,
	nodeKey *p2p.NodeKey,
) *p2p.MultiplexTransport {
	var (
		mConnConfig = conn.DefaultMConnConfig()
		transport   = p2p.NewMultiplexTransport(nodeInfo, *nodeKey, mConnConfig)
	)

	// Limit the number of incoming connections.
	max := config.P2P.MaxNumInboundPeers + len(splitAndTrimEmpty(config.P2P.UnconditionalPeerIDs, ",", " "))
	p2p.MultiplexTransportMaxIncomingConnections(max)(transport)

	return transport
}

func createSwitch(config *cfg.Config,
	transport p2p.Transport,
	mempoolReactor *mempl.Reactor,
	consensusReactor *consensus.Reactor,
	nodeInfo p2p.NodeInfo,
	nodeKey *p2p.NodeKey,
	p2pLogger log.Logger) *p2p.Switch {

	sw := p2p.NewSwitch(
		config.P2P,
		transport,
	)
	sw.SetLogger(p2pLogger)
	sw.AddReactor("MEMPOOL", mempoolReactor)
	sw.AddReactor("CONSENSUS", consensusReactor)

	sw.SetNodeInfo(nodeInfo)
	sw.SetNodeKey(nodeKey)

	p2pLogger.Info("P2P Node ID", "ID", nodeKey.ID(), "file", config.NodeKeyFile())
	return sw
}

// loadBlockStore opens the chain store and writes the genesis block into an
// empty one.
func loadBlockStore(config *cfg.Config, genDoc *types.GenesisDoc, logger log.Logger) (*store.BlockStore, error) {
	blockStore, err := store.NewBlockStore(config.BlockStoreName(), config.DBDir(), logger)
	if err != nil {
		return nil, err
	}

	genBlock := genDoc.Block()
	stored, err := blockStore.BlockAtHeight(0)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		if err := blockStore.SaveBlock(genBlock); err != nil {
			return nil, errors.Wrap(err, "saving genesis block")
		}
		logger.Info("Stored genesis block", "hash", genBlock.Hash())
		return blockStore, nil
	}
	if !bytes.Equal(stored.Hash(), genBlock.Hash()) {
		return nil, fmt.Errorf("stored genesis %X does not match genesis file %X", stored.Hash(), genBlock.Hash())
	}
	return blockStore, nil
}

func NewNode(config *cfg.Config,
	privVal types.PrivValidator,
	nodeKey *p2p.NodeKey,
	genDoc *types.GenesisDoc,
	logger log.Logger,
	options ...Option) (*Node, error) {

	blockStore, err := loadBlockStore(config, genDoc, logger.With("module", "store"))
	if err != nil {
		return nil, err
	}
	memberPool, err := sm.LoadMemberPool(blockStore)
	if err != nil {
		return nil, err
	}
	memberPool.SetLogger(logger.With("module", "members"))

	state := sm.MakeGenesisState(genDoc)
	verifier := types.NewSignatureVerifier(state.ChainID, state.Authority)

	mempool := mempl.NewListMempool(config.Mempool, blockStore.Height(),
		mempl.SetPreCheck(func(tx *types.Tx) error {
			if err := tx.ValidateBasic(); err != nil {
				return err
			}
			if tx.Type == types.TxCoinbase {
				return errors.New("coinbase txs are only created by block producers")
			}
			return verifier.VerifyTx(tx)
		}))
	mempoolReactor := mempl.NewReactor(config.Mempool, mempool)
	mempoolReactor.SetLogger(logger.With("module", "mempool"))

	persistentPeers := splitAndTrimEmpty(config.P2P.PersistentPeers, ",", " ")
	consensusReactor := consensus.NewReactor(blockStore, consensus.WithSolo(len(persistentPeers) == 0))
	consensusReactor.SetLogger(logger.With("module", "consensus"))

	consensusState := consensus.NewConsensusState(config.Round, state, blockStore, memberPool,
		mempool, consensusReactor, privVal, verifier)
	consensusState.SetLogger(logger.With("module", "consensus"))
	consensusReactor.SetConsensusState(consensusState)

	// committed blocks flow to everything that follows the chain
	blockStore.Subscribe("member-pool", func(b *types.Block) {
		if err := memberPool.ApplyBlock(b); err != nil {
			logger.Error("Member pool out of sync", "height", b.Height, "err", err)
		}
	})
	blockStore.Subscribe("mempool", func(b *types.Block) {
		mempool.Lock()
		defer mempool.Unlock()
		if err := mempool.Update(b.Height, b.Txs); err != nil {
			logger.Error("Mempool update failed", "height", b.Height, "err", err)
		}
	})
	blockStore.Subscribe("consensus-reactor", consensusReactor.OnBlockCommitted)

	metricSet := metric.NewMetricSet()
	if err := metricSet.SetMetrics("consensus", consensusState.Metric()); err != nil {
		return nil, err
	}
	if err := metricSet.SetMetrics("mempool", mempool.Metric()); err != nil {
		return nil, err
	}

	p2pLogger := logger.With("module", "p2p")

	// setup node identity
	nodeInfo, err := makeNodeInfo(config, nodeKey, genDoc)
	if err != nil {
		return nil, err
	}

	// Setup Transport.
	transport := createTransport(config, nodeInfo, nodeKey)

	// Setup Switch.
	sw := createSwitch(
		config, transport, mempoolReactor, consensusReactor, nodeInfo, nodeKey, p2pLogger,
	)
	if err := sw.AddPersistentPeers(persistentPeers); err != nil {
		return nil, fmt.Errorf("could not add peers from persistent_peers field: %w", err)
	}

	node := &Node{
		config:     config,
		genesisDoc: genDoc,
		privVal:    privVal,

		transport: transport,
		sw:        sw,
		nodeInfo:  nodeInfo,
		nodeKey:   nodeKey,

		blockStore:       blockStore,
		memberPool:       memberPool,
		mempool:          mempool,
		mempoolReactor:   mempoolReactor,
		consensusState:   consensusState,
		consensusReactor: consensusReactor,
		metricSet:        metricSet,
		rpcEnv: &rpc.Environment{
			BlockStore: blockStore,
			Mempool:    mempool,
			Consensus:  consensusState,
			MetricSet:  metricSet,
			Logger:     logger.With("module", "rpc"),
		},
	}
	node.BaseService = *service.NewBaseService(logger, "Node", node)
	for _, option := range options {
		option(node)
	}

	return node, nil
}

func (n *Node) OnStart() error {
	// start the transport
	addr, err := p2p.NewNetAddressString(p2p.IDAddressString(n.nodeKey.ID(), n.config.P2P.ListenAddress))
	if err != nil {
		return err
	}
	if err := n.transport.Listen(*addr); err != nil {
		return err
	}

	if n.config.RPC.ListenAddress != "" {
		listeners, err := n.startRPC()
		if err != nil {
			return err
		}
		n.rpcListeners = listeners
	}

	// start the Switch
	if err := n.sw.Start(); err != nil {
		return err
	}
	if err := n.consensusState.Start(); err != nil {
		return err
	}

	n.Logger.Info("Dialing persistent peers", "peers", n.config.P2P.PersistentPeers)
	err = n.sw.DialPeersAsync(splitAndTrimEmpty(n.config.P2P.PersistentPeers, ",", " "))
	if err != nil {
		return fmt.Errorf("could not dial peers from persistent_peers field: %w", err)
	}

	return nil
}

func (n *Node) OnStop() {
	n.Logger.Info("Stopping Node")

	if err := n.consensusState.Stop(); err != nil {
		n.Logger.Error("Error stopping consensus", "err", err)
	}
	if err := n.sw.Stop(); err != nil {
		n.Logger.Error("Error stopping switch", "err", err)
	}
	if err := n.transport.Close(); err != nil {
		n.Logger.Error("Error closing transport", "err", err)
	}
	for _, l := range n.rpcListeners {
		n.Logger.Info("Closing rpc listener", "listener", l)
		if err := l.Close(); err != nil {
			n.Logger.Error("Error closing listener", "listener", l, "err", err)
		}
	}
	if err := n.blockStore.Close(); err != nil {
		n.Logger.Error("Error closing block store", "err", err)
	}
}

// startRPC serves the routes over HTTP and websocket on every configured
// listen address.
func (n *Node) startRPC() ([]net.Listener, error) {
	listenAddrs := splitAndTrimEmpty(n.config.RPC.ListenAddress, ",", " ")

	config := rpcserver.DefaultConfig()
	config.MaxBodyBytes = n.config.RPC.MaxBodyBytes
	config.MaxHeaderBytes = n.config.RPC.MaxHeaderBytes
	config.MaxOpenConnections = n.config.RPC.MaxOpenConnections

	routes := n.rpcEnv.Routes()
	rpcLogger := n.Logger.With("module", "rpc-server")

	listeners := make([]net.Listener, 0, len(listenAddrs))
	for _, listenAddr := range listenAddrs {
		mux := http.NewServeMux()
		wm := rpcserver.NewWebsocketManager(routes, rpcserver.ReadLimit(config.MaxBodyBytes))
		wm.SetLogger(rpcLogger.With("protocol", "websocket"))
		mux.HandleFunc("/websocket", wm.WebsocketHandler)
		rpcserver.RegisterRPCFuncs(mux, routes, rpcLogger)

		listener, err := rpcserver.Listen(listenAddr, config)
		if err != nil {
			return nil, err
		}
		go func() {
			if err := rpcserver.Serve(listener, mux, rpcLogger, config); err != nil {
				rpcLogger.Error("Error serving RPC", "err", err)
			}
		}()
		listeners = append(listeners, listener)
	}
	return listeners, nil
}

func (n *Node) Switch() *p2p.Switch {
	return n.sw
}

func (n *Node) NodeInfo() p2p.NodeInfo {
	return n.nodeInfo
}

func (n *Node) BlockStore() *store.BlockStore {
	return n.blockStore
}

func (n *Node) MemberPool() *sm.MemberPool {
	return n.memberPool
}

func (n *Node) Mempool() *mempl.ListMempool {
	return n.mempool
}

func (n *Node) ConsensusState() *consensus.ConsensusState {
	return n.consensusState
}

func (n *Node) RPCEnvironment() *rpc.Environment {
	return n.rpcEnv
}

/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package node

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/ehrchain/ehrd/common/crypto"
	"github.com/ehrchain/ehrd/common/flogging"
	"github.com/ehrchain/ehrd/common/grpcmetrics"
	"github.com/ehrchain/ehrd/common/metadata"
	"github.com/ehrchain/ehrd/common/viperutil"
	"github.com/ehrchain/ehrd/core/config"
	"github.com/ehrchain/ehrd/core/ehr"
	"github.com/ehrchain/ehrd/core/keyrotation"
	"github.com/ehrchain/ehrd/core/ledger"
	"github.com/ehrchain/ehrd/core/ledger/ledgerstore"
	"github.com/ehrchain/ehrd/core/operations"
	"github.com/ehrchain/ehrd/core/replication"
	"github.com/ehrchain/ehrd/internal/peer/version"
	"github.com/ehrchain/ehrd/internal/pkg/comm"
	"github.com/ehrchain/ehrd/internal/pkg/control"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tedsuo/ifrit"
	"github.com/tedsuo/ifrit/grouper"
	"github.com/tedsuo/ifrit/sigmon"
	"google.golang.org/grpc"
	"gopkg.in/yaml.v2"
)

const (
	certExpiryAlert = 7 * 24 * time.Hour
)

// flagKeys maps the start flags to the configuration keys they override.
var flagKeys = map[string]string{
	"peer-name":      "peer.name",
	"peer-address":   "peer.address",
	"listen-address": "peer.listenAddress",
	"fs-path":        "peer.fileSystemPath",
	"socket-path":    "control.socketPath",
}

func startCmd() *cobra.Command {
	nodeStartCmd := &cobra.Command{
		Use:   "start",
		Short: "Starts the node.",
		Long:  `Starts a node that serves the control socket and replicates chains with its peers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("trailing args detected")
			}
			// Parsing of the command line is done so silence cmd usage
			cmd.SilenceUsage = true
			return serve(cmd.Flags())
		},
	}

	// Set the flags on the node start command.
	flags := nodeStartCmd.Flags()
	flags.String("peer-name", "", "provider name this node records for itself")
	flags.String("peer-address", "", "externally reachable ip of this node")
	flags.String("listen-address", "", "address the replication server listens on")
	flags.String("fs-path", "", "directory holding the node database")
	flags.String("socket-path", "", "path of the control socket")
	return nodeStartCmd
}

func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	v := viper.New()
	viperutil.InitViper(v, config.ConfigName)
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return nil, errors.Wrapf(err, "failed binding flag %s", flag)
		}
	}
	return config.FromViper(v)
}

func serve(flags *pflag.FlagSet) error {
	conf, err := loadConfig(flags)
	if err != nil {
		return err
	}
	flogging.Init(flogging.Config{
		Format:  conf.Logging.Format,
		LogSpec: conf.Logging.Spec,
		Writer:  os.Stderr,
	})
	logger.Infof("Starting %s", version.GetInfo())

	// Info logging for node config, includes ehrd.yaml settings and environment variable overrides
	settingsYaml, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}
	logger.Infof("Node config with combined ehrd.yaml settings and environment variable overrides:\n%s", settingsYaml)

	node, err := New(conf)
	if err != nil {
		return err
	}
	defer node.Close()

	handleSignals(addPlatformSignals(map[os.Signal]func(){
		syscall.SIGHUP: func() {
			if err := node.ReloadClientRootCAs(); err != nil {
				logger.Errorf("Failed reloading client root CAs: %s", err)
			}
		},
	}))

	process := ifrit.Invoke(sigmon.New(node.Runner()))
	logger.Infof("Started node %s at address [%s], replication listening on [%s]", conf.Peer.Name, conf.Peer.Address, node.Server.Address())

	return <-process.Wait()
}

// Node holds the components of a running node.
type Node struct {
	Config      *config.Config
	Store       *ledgerstore.Store
	Engine      *ledger.Engine
	Operations  *operations.System
	Server      *comm.GRPCServer
	Transport   *comm.Transport
	Dispatcher  *replication.Dispatcher
	Replicator  *replication.Replicator
	Coordinator *keyrotation.Coordinator
	Service     *ehr.Service
	Control     *control.Server
}

// New opens the node database and wires every component. Nothing is
// served until the runner returned by Runner is started.
func New(conf *config.Config) (*Node, error) {
	n := &Node{Config: conf}

	store, err := ledgerstore.Open(ledgerstore.DataPath(conf.Peer.FileSystemPath))
	if err != nil {
		return nil, errors.WithMessage(err, "failed opening node database")
	}
	n.Store = store

	if err := n.build(); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *Node) build() error {
	conf := n.Config

	identity, err := n.Store.LocalIdentity()
	if err != nil {
		return errors.WithMessage(err, "failed loading local identity")
	}

	n.Operations = operations.NewSystem(operations.Options{
		ListenAddress:      conf.Operations.ListenAddress,
		HealthCheckTimeout: conf.Operations.HealthCheckTimeout,
		MetricsProvider:    conf.Metrics.Provider,
		Version:            metadata.Version,
		CommitSHA:          metadata.CommitSHA,
	})
	if err := n.Operations.RegisterChecker("ledger", n.Store); err != nil {
		return err
	}

	n.Engine = ledger.NewEngine(n.Store, clock.NewClock(), n.Operations)

	serverSecOpts, clientSecOpts, err := secureOptions(conf.Peer.TLS)
	if err != nil {
		return err
	}
	n.Server, err = comm.NewGRPCServer(conf.Peer.ListenAddress, comm.ServerConfig{
		SecOpts:           serverSecOpts,
		KaOpts:            comm.DefaultKeepaliveOptions,
		Logger:            flogging.MustGetLogger("comm.grpc.server"),
		UnaryInterceptors: []grpc.UnaryServerInterceptor{grpcmetrics.UnaryServerInterceptor(grpcmetrics.NewUnaryMetrics(n.Operations))},
	})
	if err != nil {
		return errors.WithMessagef(err, "failed creating replication server on %s", conf.Peer.ListenAddress)
	}

	client, err := comm.NewGRPCClient(comm.ClientConfig{
		SecOpts:     clientSecOpts,
		KaOpts:      comm.DefaultKeepaliveOptions,
		DialTimeout: conf.Peer.Replication.DialTimeout,
	})
	if err != nil {
		return errors.WithMessage(err, "failed creating replication client")
	}
	n.Transport = comm.NewTransport(client)

	replicationMetrics := replication.NewMetrics(n.Operations)
	n.Dispatcher = replication.NewDispatcher(conf.Peer.Replication.QueueSize)
	n.Replicator = replication.NewReplicator(n.Engine, n.Transport, n.Dispatcher, replication.Config{
		SelfAddress:        conf.Peer.Address,
		DefaultPort:        conf.Peer.Port,
		SendTimeout:        conf.Peer.Replication.SendTimeout,
		MaxConcurrentSends: conf.Peer.Replication.MaxConcurrentSends,
	}, replicationMetrics)
	n.Coordinator = keyrotation.NewCoordinator(n.Engine, n.Replicator)
	comm.RegisterDeliverHandler(n.Server.Server(), replication.NewHandler(n.Engine, n.Coordinator, replicationMetrics))

	n.Service = ehr.NewService(n.Engine, n.Replicator, n.Coordinator, ehr.Config{
		Self:        ledger.Provider{Name: conf.Peer.Name, IP: conf.Peer.Address},
		ProviderKey: identity.PublicKey,
	})
	n.Control = control.NewServer(conf.Control.SocketPath, conf.Control.QueueSize, n.Service)
	return nil
}

// Runner starts operations, the fan-out dispatcher, the replication server
// and the control socket in that order and stops them in reverse.
func (n *Node) Runner() ifrit.Runner {
	return grouper.NewOrdered(syscall.SIGTERM, grouper.Members{
		{Name: "operations", Runner: n.Operations},
		{Name: "dispatcher", Runner: n.Dispatcher},
		{Name: "replication", Runner: n.Server},
		{Name: "control", Runner: n.Control},
	})
}

// ReloadClientRootCAs re-reads peer.tls.clientRootCAs and applies them to
// new replication connections. It does nothing unless mutual TLS is on.
func (n *Node) ReloadClientRootCAs() error {
	if !n.Server.MutualTLSRequired() {
		return nil
	}
	_, _, clientRoots, err := readTLSFiles(n.Config.Peer.TLS)
	if err != nil {
		return err
	}
	if err := n.Server.SetClientRootCAs(clientRoots); err != nil {
		return err
	}
	logger.Infof("Reloaded %d client root CAs", len(clientRoots))
	return nil
}

// Close releases the connections and the database of the node.
func (n *Node) Close() {
	if n.Transport != nil {
		n.Transport.Close()
	}
	if n.Store != nil {
		n.Store.Close()
	}
}

func readTLSFiles(tlsConf config.TLS) (cert, key []byte, clientRoots [][]byte, err error) {
	if cert, err = os.ReadFile(tlsConf.Cert.File); err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed reading TLS certificate")
	}
	if key, err = os.ReadFile(tlsConf.Key.File); err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed reading TLS key")
	}
	for _, f := range tlsConf.ClientRootCAs.Files {
		root, err := os.ReadFile(f)
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err, "failed reading client root CA %s", f)
		}
		clientRoots = append(clientRoots, root)
	}
	return cert, key, clientRoots, nil
}

func secureOptions(tlsConf config.TLS) (server, client comm.SecureOptions, err error) {
	if !tlsConf.Enabled {
		return server, client, nil
	}

	cert, key, clientRoots, err := readTLSFiles(tlsConf)
	if err != nil {
		return server, client, err
	}
	crypto.WarnIfExpiring(cert, time.Now(), certExpiryAlert, logger.Warnf)

	var serverRoots [][]byte
	if tlsConf.RootCert.File != "" {
		root, err := os.ReadFile(tlsConf.RootCert.File)
		if err != nil {
			return server, client, errors.Wrap(err, "failed reading TLS root certificate")
		}
		serverRoots = append(serverRoots, root)
	}

	server = comm.SecureOptions{
		UseTLS:            true,
		RequireClientCert: tlsConf.ClientAuthRequired,
		Certificate:       cert,
		Key:               key,
		ClientRootCAs:     clientRoots,
	}
	client = comm.SecureOptions{
		UseTLS:            true,
		RequireClientCert: tlsConf.ClientAuthRequired,
		Certificate:       cert,
		Key:               key,
		ServerRootCAs:     serverRoots,
	}
	return server, client, nil
}

func handleSignals(handlers map[os.Signal]func()) {
	if len(handlers) == 0 {
		return
	}
	var signals []os.Signal
	for sig := range handlers {
		signals = append(signals, sig)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, signals...)

	go func() {
		for sig := range signalChan {
			logger.Infof("Received signal: %d (%s)", sig, sig)
			handlers[sig]()
		}
	}()
}

func logGoRoutines(l *flogging.Logger) {
	buf := &bytes.Buffer{}
	if err := pprof.Lookup("goroutine").WriteTo(buf, 2); err != nil {
		l.Errorf("failed to write goroutine dump: %s", err)
		return
	}
	l.Infof("Go routines report:\n%s", buf)
}

// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/coreswarm/torrent/core"
	"github.com/coreswarm/torrent/lib/torrent"
	"github.com/coreswarm/torrent/metrics"
	"github.com/coreswarm/torrent/utils/configutil"
	"github.com/coreswarm/torrent/utils/netutil"
)

func init() {
	rootCmd.PersistentFlags().StringVarP(
		&peerIP, "peer-ip", "", "", "ip which peer will announce itself as")
	rootCmd.PersistentFlags().IntVarP(
		&peerPort, "peer-port", "", 0, "port which peer will announce itself as")
	rootCmd.PersistentFlags().StringVarP(
		&configFile, "config", "", "", "configuration file path")
	rootCmd.PersistentFlags().StringVarP(
		&cluster, "cluster", "", "", "cluster name, used to tag emitted metrics")
}

var (
	peerIP     string
	peerPort   int
	configFile string
	cluster    string

	rootCmd = &cobra.Command{
		Short: "coreswarm-torrent downloads and seeds torrents as a peer in a BitTorrent DHT swarm.",
		Run: func(rootCmd *cobra.Command, args []string) {
			start()
		},
	}
)

// Execute runs the root command.
func Execute() {
	rootCmd.Execute()
}

func start() {
	if peerPort == 0 {
		panic("must specify non-zero peer port")
	}

	var config Config
	if configFile != "" {
		if err := configutil.Load(configFile, &config); err != nil {
			panic(err)
		}
	}

	zapConfig := config.ZapLogging
	if zapConfig.Encoding == "" {
		// No zap_logging section was loaded from config; fall back to
		// sane production defaults rather than zap.Config's unusable
		// zero value (an unconfigured AtomicLevel panics on use).
		zapConfig = zap.NewProductionConfig()
	}
	logger, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}
	sugar := logger.Sugar()
	defer sugar.Sync()

	stats, closer, err := metrics.New(config.Metrics, cluster)
	if err != nil {
		sugar.Fatalf("Failed to init metrics: %s", err)
	}
	defer closer.Close()

	go metrics.EmitVersion(stats)

	if peerIP == "" {
		localIP, err := netutil.GetLocalIP()
		if err != nil {
			sugar.Fatalf("Error getting local ip: %s", err)
		}
		peerIP = localIP
	}

	factory := config.PeerIDFactory
	if factory == "" {
		factory = core.RandomPeerIDFactory
	}
	pctx, err := core.NewPeerContext(factory, peerIP, peerPort, config.Torrent.ClientName)
	if err != nil {
		sugar.Fatalf("Failed to create peer context: %s", err)
	}

	if config.DownloadDir == "" {
		sugar.Fatal("download_dir must be set")
	}

	client, err := torrent.NewClient(config.Torrent, pctx, config.DownloadDir, stats, sugar)
	if err != nil {
		sugar.Fatalf("Failed to create torrent client: %s", err)
	}
	defer client.Stop()

	sugar.Infof("coreswarm-torrent started as peer %s on %s:%d", pctx.PeerID, peerIP, peerPort)

	go heartbeat(stats)

	select {}
}

// heartbeat periodically emits a counter metric, allowing active clients to
// be monitored.
func heartbeat(stats tally.Scope) {
	for {
		stats.Counter("heartbeat").Inc(1)
		time.Sleep(10 * time.Second)
	}
}

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
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/schollz/progressbar/v3"

	"github.com/riptide-p2p/riptide/core"
	"github.com/riptide-p2p/riptide/lib/torrent"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler"
	"github.com/riptide-p2p/riptide/metrics"
	"github.com/riptide-p2p/riptide/tracker/announceclient"
	"github.com/riptide-p2p/riptide/utils/configutil"
	"github.com/riptide-p2p/riptide/utils/log"
)

// Exit codes.
const (
	exitOK            = 0
	exitConfiguration = 1
	exitTracker       = 2
	exitNoUsablePeers = 3
	exitIntegrity     = 4
)

const defaultListenPort = 8000

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "", "configuration file path")
	outputDir := flag.String("output_dir", "", "directory the file downloads into")
	listenPort := flag.Int("listen_port", 0, "port to accept peer connections on")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <path-to-torrent>\n", os.Args[0])
		return exitConfiguration
	}

	var config Config
	if err := configutil.Load(*configFile, &config); err != nil {
		fmt.Fprintf(os.Stderr, "load config: %s\n", err)
		return exitConfiguration
	}
	if *outputDir != "" {
		config.Torrent.DownloadDir = *outputDir
	}
	config.Torrent.ListenPort = resolveListenPort(*listenPort, config.Torrent.ListenPort)

	zlog := log.ConfigureLogger(config.ZapLogging)
	defer zlog.Sync()

	stats, closer, err := metrics.New(config.Metrics)
	if err != nil {
		log.Errorf("Failed to init metrics: %s", err)
		return exitConfiguration
	}
	defer closer.Close()

	raw, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Errorf("Failed to read torrent file: %s", err)
		return exitConfiguration
	}
	mi, err := core.DecodeMetaInfo(raw)
	if err != nil {
		log.Errorf("Failed to decode torrent file: %s", err)
		return exitConfiguration
	}

	peerID, err := core.RandomPeerID()
	if err != nil {
		log.Errorf("Failed to generate peer id: %s", err)
		return exitConfiguration
	}

	colorstring.Printf(
		"[cyan]riptide[reset] downloading [bold]%s[reset] (%d bytes, %d pieces)\n",
		mi.Name(), mi.Length(), mi.NumPieces())

	client, err := torrent.NewSchedulerClient(config.Torrent, stats, peerID, mi)
	if err != nil {
		log.Errorf("Failed to create torrent client: %s", err)
		return exitConfiguration
	}
	defer client.Close()

	stopProgress := trackProgress(client, mi)
	err = client.Download()
	stopProgress()

	switch {
	case err == nil:
		colorstring.Printf("[green]download complete:[reset] ./%s\n", mi.Name())
		return exitOK
	case announceclient.IsTrackerError(err) || announceclient.IsUnreachableError(err):
		log.Errorf("Tracker error: %s", err)
		return exitTracker
	case err == scheduler.ErrNoUsablePeers:
		info := client.Stat()
		if info.BytesDownloaded() == 0 {
			log.Errorf("No usable peers for torrent")
			return exitNoUsablePeers
		}
		colorstring.Printf(
			"[red]download incomplete:[reset] %d%% downloaded, missing pieces %v\n",
			info.PercentDownloaded(), info.MissingPieces())
		return exitIntegrity
	default:
		log.Errorf("Download failed: %s", err)
		return exitTracker
	}
}

// resolveListenPort picks the listen port: flag, then config, then the
// LISTEN_PORT environment variable, then the default.
func resolveListenPort(flagPort, configPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	if configPort != 0 {
		return configPort
	}
	if env := os.Getenv("LISTEN_PORT"); env != "" {
		if p, err := strconv.Atoi(env); err == nil {
			return p
		}
		log.Warnf("Ignoring unparseable LISTEN_PORT %q", env)
	}
	return defaultListenPort
}

// trackProgress renders a progress bar off of periodic storage snapshots
// until the returned stop function is called.
func trackProgress(client torrent.Client, mi *core.MetaInfo) (stop func()) {
	bar := progressbar.DefaultBytes(mi.Length(), mi.Name())
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			select {
			case <-done:
				bar.Set64(client.Stat().BytesDownloaded())
				return
			case <-time.After(200 * time.Millisecond):
				bar.Set64(client.Stat().BytesDownloaded())
			}
		}
	}()
	return func() {
		close(done)
		<-finished
		fmt.Println()
	}
}

package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-kv/pkg/config"
)

var engineFlags struct {
	walDir         string
	segmentDir     string
	flushThreshold int
	fileLimit      int
	levels         int
	interval       time.Duration
	listenAddr     string
	adminAddr      string
	idleTimeout    time.Duration
	maxConns       int
}

func addEngineFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&engineFlags.walDir, "wal-dir", "", "directory holding wal.dat")
	f.StringVar(&engineFlags.segmentDir, "segment-dir", "", "directory holding SSTable segments")
	f.IntVar(&engineFlags.flushThreshold, "flush-threshold", 0, "memtable entries before a flush")
	f.IntVar(&engineFlags.fileLimit, "compaction-file-limit", 0, "segments per level before compaction")
	f.IntVar(&engineFlags.levels, "compaction-levels", 0, "number of compaction levels")
	f.DurationVar(&engineFlags.interval, "compaction-interval", 0, "periodic compaction check (0 disables)")
	f.StringVar(&engineFlags.listenAddr, "listen", "", "protocol listen address")
	f.StringVar(&engineFlags.adminAddr, "admin", "", "admin HTTP address (empty disables)")
	f.DurationVar(&engineFlags.idleTimeout, "idle-timeout", 0, "close idle client connections after this long")
	f.IntVar(&engineFlags.maxConns, "max-connections", 0, "maximum concurrent clients (0 is unlimited)")
}

// applyEngineFlags copies only the flags the user actually set
func applyEngineFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("wal-dir") {
		cfg.WALDir = engineFlags.walDir
	}
	if flags.Changed("segment-dir") {
		cfg.SegmentDir = engineFlags.segmentDir
	}
	if flags.Changed("flush-threshold") {
		cfg.FlushThreshold = engineFlags.flushThreshold
	}
	if flags.Changed("compaction-file-limit") {
		cfg.CompactionFileLimit = engineFlags.fileLimit
	}
	if flags.Changed("compaction-levels") {
		cfg.CompactionLevels = engineFlags.levels
	}
	if flags.Changed("compaction-interval") {
		cfg.CompactionInterval = engineFlags.interval
	}
	if flags.Changed("listen") {
		cfg.ListenAddr = engineFlags.listenAddr
	}
	if flags.Changed("admin") {
		cfg.AdminAddr = engineFlags.adminAddr
	}
	if flags.Changed("idle-timeout") {
		cfg.IdleTimeout = engineFlags.idleTimeout
	}
	if flags.Changed("max-connections") {
		cfg.MaxConnections = engineFlags.maxConns
	}
}

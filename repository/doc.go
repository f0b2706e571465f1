// Package repository maintains the local archive of one remote git
// repository. The archive is a normal (non-bare) clone in which every
// remote branch is represented by a tracking local branch.
//
// Re-running Sync on an existing archive is safe: branches created
// upstream since the last run are added, tracking links are repaired,
// and branches deleted upstream are retained locally (archival
// retention). Local history is never deleted by this package.
//
// # Logging:
//
// package takes slog reference for logging and prints logs up to 'trace' level
//
// Example:
//
//	loggerLevel  = new(slog.LevelVar)
//	levelStrings = map[string]slog.Level{
//		"trace": slog.Level(-8),
//		"debug": slog.LevelDebug,
//		"info":  slog.LevelInfo,
//		"warn":  slog.LevelWarn,
//		"error": slog.LevelError,
//	}
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//		Level: loggerLevel,
//	}))
//	loggerLevel.Set(levelStrings["trace"])
//
//	repo, err := repository.New(repoConf, nil, logger)
//	if err != nil {
//		panic(err)
//	}
package repository

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/utilitywarehouse/archive-org/archive"
	"github.com/utilitywarehouse/archive-org/github"
	"github.com/utilitywarehouse/archive-org/repository"
)

const orgLoginEnvVar = "ARCHIVE_ORG_LOGIN"

var (
	loggerLevel = new(slog.LevelVar)
	logger      *slog.Logger

	levelStrings = map[string]slog.Level{
		"trace": slog.Level(-8),
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}

	flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Sources: cli.EnvVars("ARCHIVE_ORG_CONFIG"),
			Usage:   "Absolute path to the optional defaults file.",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Sources: cli.EnvVars("LOG_LEVEL"),
			Value:   "info",
			Usage:   "Log level",
		},
		&cli.StringFlag{
			Name:    "release_files",
			Aliases: []string{"f"},
			Value:   "all",
			Usage:   "Which releases to archive: all, latest or none.",
		},
		&cli.StringFlag{
			Name:    "path",
			Aliases: []string{"p"},
			Value:   ".",
			Usage:   "Root directory of the archive tree.",
		},
		&cli.StringSliceFlag{
			Name:    "repo",
			Aliases: []string{"r"},
			Usage:   "Archive only the named repositories, overrides --topic and --search.",
		},
		&cli.StringFlag{
			Name:    "topic",
			Aliases: []string{"t"},
			Usage:   "Archive only repositories carrying this topic.",
		},
		&cli.StringFlag{
			Name:    "search",
			Aliases: []string{"s"},
			Usage:   "Archive only repositories matching this search query, overrides --topic.",
		},
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "Skip the confirmation prompt.",
		},
		&cli.BoolFlag{
			Name:    "dry-run",
			Aliases: []string{"n"},
			Usage:   "Only print the paths that would be created or updated.",
		},
	}
)

func init() {
	loggerLevel.Set(slog.LevelInfo)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: loggerLevel,
	}))
}

func main() {
	cmd := &cli.Command{
		Name:      "archive-org",
		Usage:     "archive-org maintains a local archive of all repositories and releases of a GitHub org or user.",
		ArgsUsage: "[HOST/]ORG",
		Flags:     flags,
		Action:    run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("failed to run app", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *cli.Command) error {
	// set log level according to argument
	if v, ok := levelStrings[strings.ToLower(c.String("log-level"))]; ok {
		loggerLevel.Set(v)
	}

	fileConf := &FileConfig{}
	if path := c.String("config"); path != "" {
		var err error
		if fileConf, err = parseConfigFile(path); err != nil {
			return fmt.Errorf("unable to parse config file err:%w", err)
		}
	}

	releaseFiles := c.String("release_files")
	if !c.IsSet("release_files") && fileConf.ReleaseFiles != "" {
		releaseFiles = fileConf.ReleaseFiles
	}
	mode, err := archive.ParseReleaseMode(releaseFiles)
	if err != nil {
		return err
	}

	path := c.String("path")
	if !c.IsSet("path") && fileConf.Path != "" {
		path = fileConf.Path
	}

	host, org, err := resolveOrgArg(c.Args().First(), os.Getenv(orgLoginEnvVar))
	if err != nil {
		return err
	}

	token := os.Getenv("GITHUB_TOKEN")
	client := github.NewClient(github.Config{
		Host:                    host,
		Token:                   token,
		GithubAppID:             fileConf.GithubAppID,
		GithubAppInstallationID: fileConf.GithubAppInstallationID,
		GithubAppPrivateKeyPath: fileConf.GithubAppPrivateKeyPath,
	}, logger.With("logger", "github"))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// resolve the canonical login before any disk layout is derived
	// from it
	owner, err := client.Owner(ctx, org)
	if err != nil {
		return fmt.Errorf("unable to resolve organization %q err:%w", org, err)
	}

	targets, err := resolveTargets(ctx, client, owner,
		c.StringSlice("repo"), c.String("search"), c.String("topic"))
	if err != nil {
		return fmt.Errorf("unable to resolve repository list err:%w", err)
	}
	if len(targets) == 0 {
		return fmt.Errorf("no repositories resolved for %s", owner.Login)
	}

	if !c.Bool("yes") && !c.Bool("dry-run") {
		msg := fmt.Sprintf("archive %d repositories of %s into %s?", len(targets), owner.Login, path)
		ok, err := confirm(os.Stdout, os.Stdin, msg)
		if err != nil {
			return err
		}
		if !ok {
			logger.Info("aborted by user")
			return nil
		}
	}

	// git https auth uses the same token as the API client, for app
	// auth an installation token is minted up front
	if token == "" && fileConf.GithubAppID != "" {
		if token, err = client.Token(ctx); err != nil {
			return fmt.Errorf("unable to mint github app token err:%w", err)
		}
	}
	var auth repository.Auth
	if token != "" {
		auth = repository.Auth{Password: token}
	}

	gitENV := []string{
		fmt.Sprintf("PATH=%s", os.Getenv("PATH")),
		fmt.Sprintf("HOME=%s", os.Getenv("HOME")),
	}

	archiver := archive.New(archive.Config{
		Org:         owner.Login,
		Path:        path,
		Repos:       targets,
		ReleaseMode: mode,
		DryRun:      c.Bool("dry-run"),
		Auth:        auth,
	}, client, gitENV, logger)

	summary, err := archiver.Run(ctx)
	if err != nil {
		logger.Info("shutting down", "err", err)
		return nil
	}

	printSummary(os.Stdout, summary)
	return nil
}

func confirm(out *os.File, in *os.File, msg string) (bool, error) {
	if !term.IsTerminal(int(in.Fd())) {
		return false, fmt.Errorf("standard input is not a terminal, use --yes to skip confirmation")
	}

	fmt.Fprintf(out, "%s [y/N]: ", msg)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("unable to read confirmation err:%w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func printSummary(out *os.File, summary *archive.Summary) {
	for _, st := range summary.Statuses {
		if st.Err != nil {
			fmt.Fprintf(out, "%s: failed: %v\n", st.Name, st.Err)
			continue
		}
		line := fmt.Sprintf("%s: ok", st.Name)
		if st.Mirrored {
			line += " (new mirror)"
		}
		if st.BranchErrors > 0 {
			line += fmt.Sprintf(" (%d branch errors)", st.BranchErrors)
		}
		if st.Releases > 0 {
			line += fmt.Sprintf(" (%d releases)", st.Releases)
		}
		fmt.Fprintln(out, line)
	}

	if failed := summary.Failed(); len(failed) > 0 {
		fmt.Fprintf(out, "%d of %d repositories failed: %s\n",
			len(failed), len(summary.Statuses), strings.Join(failed, ", "))
	}
}

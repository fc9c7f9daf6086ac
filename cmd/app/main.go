package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/piko/internal"
	"github.com/starford/piko/internal/models"
	pkgconfig "github.com/starford/piko/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func target(cmd *cli.Command) internal.Target {
	return internal.Target{
		ProjectID: cmd.String("project"),
		Actor:     cmd.String("user"),
		ServerURL: cmd.String("server"),
		Token:     cmd.String("token"),
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithTarget(target(cmd)))
}

func mirror(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMirror(ctx,
		internal.WithConfig(cfg),
		internal.WithTarget(target(cmd)),
		internal.WithMirrorPath(cmd.String("file")),
	)
}

func token(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	t, err := internal.MintToken(cfg, cmd.String("user"))
	if err != nil {
		return err
	}
	fmt.Println(t)
	return nil
}

func grant(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	role := models.Role(cmd.String("role"))
	if err := internal.Grant(ctx, cfg, cmd.String("project"), cmd.String("user"), role); err != nil {
		return err
	}
	fmt.Printf("granted %s on %s to %s\n", role, cmd.String("project"), cmd.String("user"))
	return nil
}

func sessionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Project id", Required: true},
		&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Acting user id", Sources: cli.EnvVars("PIKO_USER")},
		&cli.StringFlag{Name: "server", Usage: "Server base URL; empty edits the local database", Sources: cli.EnvVars("PIKO_SERVER")},
		&cli.StringFlag{Name: "token", Usage: "Bearer token for --server", Sources: cli.EnvVars("PIKO_TOKEN")},
	}
}

func main() {
	cmd := &cli.Command{
		Name:   "piko",
		Usage:  "Collaborative node canvas for prompt-driven image generation",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API server",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools for one project over stdio",
				Flags:  sessionFlags(),
				Action: mcp,
			},
			{
				Name:  "mirror",
				Usage: "Keep a local JSON file in step with one project",
				Flags: append(sessionFlags(),
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Mirror file path", Required: true},
				),
				Action: mirror,
			},
			{
				Name:  "token",
				Usage: "Mint a bearer token for a user (jwt auth mode)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "User id", Required: true},
				},
				Action: token,
			},
			{
				Name:  "grant",
				Usage: "Grant a project role directly in the database",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Project id", Required: true},
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "User id", Required: true},
					&cli.StringFlag{Name: "role", Aliases: []string{"r"}, Usage: "OWNER, EDITOR or VIEWER", Value: string(models.RoleEditor)},
				},
				Action: grant,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

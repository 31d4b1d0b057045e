package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"pos-service/config"
	"pos-service/internal/service"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "posctl",
		Usage: "administer the POS database",
		Commands: []*cli.Command{
			migrateCommand(),
			exportCommand(),
			lowStockCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if err := util.InitLogger(cfg.Server.Env); err != nil {
		return nil, err
	}
	return store.NewStore(cfg.Database.Driver, cfg.Database.URL, cfg.Database.MaxOpenConns)
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply pending schema migrations",
		Action: func(c *cli.Context) error {
			cfg := config.Load()
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := db.ApplyMigrations(c.Context)
			if err != nil {
				return err
			}
			version, err := db.SchemaVersion(c.Context)
			if err != nil {
				return err
			}
			util.GetLogger().Info("Migrations applied",
				zap.Strings("applied", applied),
				zap.String("schema_version", version))
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export-csv",
		Usage: "write the sales line report as CSV",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "start", Usage: "first day, YYYY-MM-DD"},
			&cli.StringFlag{Name: "end", Usage: "last day, YYYY-MM-DD"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file; defaults to the report's file name, - for stdout"},
		},
		Action: func(c *cli.Context) error {
			cfg := config.Load()
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			analytics := service.NewAnalyticsService(db, nil, service.AnalyticsOptions{
				Location:    cfg.Business.Location,
				DefaultDays: cfg.Business.SummaryDefaultDays,
			})
			r := analytics.ReportRange(c.String("start"), c.String("end"))

			out := c.String("out")
			if out == "" {
				out = service.CSVFilename(r)
			}
			ctx, cancel := context.WithTimeout(c.Context, 5*time.Minute)
			defer cancel()
			var n int
			err = writeReport(out, os.Stdout, func(w io.Writer) error {
				var err error
				n, err = analytics.ExportCSV(ctx, r, w)
				return err
			})
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			util.GetLogger().Info("Sales report exported",
				zap.String("file", out),
				zap.Int("rows", n),
				zap.String("start_date", r.StartDate()),
				zap.String("end_date", r.EndDate()))
			return nil
		},
	}
}

// writeReport runs fn against path, or against stdout when path is "-". A
// file that could not be fully written or closed is removed.
func writeReport(path string, stdout io.Writer, fn func(io.Writer) error) (err error) {
	if path == "-" {
		return fn(stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()
	return fn(f)
}

func lowStockCommand() *cli.Command {
	return &cli.Command{
		Name:  "low-stock",
		Usage: "list products at or below their low stock threshold",
		Action: func(c *cli.Context) error {
			cfg := config.Load()
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			catalog := service.NewCatalogService(db, cfg.Business.DefaultLowStockThreshold)
			products, err := catalog.ListProducts(c.Context, store.ProductFilter{LowStock: true})
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tAVAILABLE\tTHRESHOLD")
			for i := range products {
				p := &products[i]
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\n",
					p.ID, p.Name, p.CategoryName, p.AvailableQuantity(), p.LowStockThreshold)
			}
			return tw.Flush()
		},
	}
}

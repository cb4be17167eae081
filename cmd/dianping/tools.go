package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Rainbow-0328/dianping/internal/domain"
	"github.com/Rainbow-0328/dianping/internal/logging"
)

func warmShopCmd() *cobra.Command {
	var (
		ids         []int64
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "warm-shop",
		Short: "Preload shops into the logical-expiry cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(ids) == 0 {
				return fmt.Errorf("at least one --id is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := buildCore(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(concurrency)
			for _, id := range ids {
				g.Go(func() error {
					found, err := c.shops.Warm(gctx, id)
					if err != nil {
						return fmt.Errorf("warm shop %d: %w", id, err)
					}
					if !found {
						logging.Op().Warn("shop not found, cached as absent", "shop_id", id)
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "warmed shop %d\n", id)
					return nil
				})
			}
			return g.Wait()
		},
	}

	cmd.Flags().Int64SliceVar(&ids, "id", nil, "Shop id to warm (repeatable)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Shops loaded in parallel")
	return cmd
}

func nextIDCmd() *cobra.Command {
	var (
		prefix string
		count  int
	)

	cmd := &cobra.Command{
		Use:   "next-id",
		Short: "Issue ids from the generator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := buildCore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			for i := 0; i < count; i++ {
				id, err := c.ids.NextID(cmd.Context(), prefix)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "order", "Id partition prefix")
	cmd.Flags().IntVar(&count, "count", 1, "Number of ids to issue")
	return cmd
}

func seedVoucherCmd() *cobra.Command {
	var (
		id    int64
		stock int
		begin string
		end   string
	)

	cmd := &cobra.Command{
		Use:   "seed-voucher",
		Short: "Create or replace a seckill voucher",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := domain.SeckillVoucher{VoucherID: id, Stock: stock}
			var err error
			if v.BeginTime, err = parseTimeFlag(begin, time.Now()); err != nil {
				return fmt.Errorf("--begin: %w", err)
			}
			if v.EndTime, err = parseTimeFlag(end, v.BeginTime.Add(24*time.Hour)); err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			if err := v.Validate(); err != nil {
				return fmt.Errorf("voucher %d: %w", id, err)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := buildCore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.store.SaveSeckillVoucher(cmd.Context(), &v); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "voucher %d: stock %d, %s to %s\n",
				v.VoucherID, v.Stock, v.BeginTime.Format(time.RFC3339), v.EndTime.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "Voucher id")
	cmd.Flags().IntVar(&stock, "stock", 0, "Units available")
	cmd.Flags().StringVar(&begin, "begin", "", "Sale start, RFC3339 (default now)")
	cmd.Flags().StringVar(&end, "end", "", "Sale end, RFC3339 (default begin + 24h)")
	return cmd
}

func parseTimeFlag(v string, def time.Time) (time.Time, error) {
	if v == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, v)
}

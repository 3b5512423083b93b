package main

import (
	"fmt"
	"os"

	"github.com/feed-system/snapgram/internal/config"
	"github.com/feed-system/snapgram/internal/repository"
	"github.com/feed-system/snapgram/internal/seed"
	"github.com/feed-system/snapgram/internal/services"
	"github.com/feed-system/snapgram/pkg/cache"
	"github.com/feed-system/snapgram/pkg/logger"
	"github.com/feed-system/snapgram/pkg/queue"
	"github.com/spf13/cobra"
)

var opts seed.Options

var rootCmd = &cobra.Command{
	Use:   "snapgram-seed",
	Short: "Populate the Snapgram database with demo data",
	Long: `Creates the demo accounts (john_doe, jane_smith, mike_wilson, sarah_jones,
password "password123") plus generated users, posts, follows, likes and comments.`,
	SilenceUsage: true,
	RunE:         runSeed,
}

func init() {
	rootCmd.Flags().IntVar(&opts.Users, "users", 20, "number of generated users besides the demo accounts")
	rootCmd.Flags().IntVar(&opts.PostsPerUser, "posts-per-user", 3, "posts created for every user")
	rootCmd.Flags().BoolVar(&opts.Reset, "reset", false, "delete all existing data first")
	rootCmd.Flags().Int64Var(&opts.Seed, "seed", 0, "random seed, 0 picks one")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	db, err := repository.NewDatabase(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// 不发事件，但要让运行中 API 的缓存版本失效
	redisClient := cache.NewRedisClient(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, 5, 0)
	defer redisClient.Close()
	if err := redisClient.Ping(cmd.Context()); err != nil {
		log.WithError(err).Warn("Redis unavailable, cached pages expire by TTL")
	}

	store := repository.NewStore(db.DB)
	feedCache := services.NewFeedCache(redisClient, cfg.Feed.CacheTTL, log)
	producer := queue.NopPublisher{}

	seeder := seed.NewSeeder(db.DB,
		services.NewUserService(store, producer, feedCache, log),
		services.NewFeedService(store, feedCache, producer, log),
		services.NewLikeService(store, feedCache, producer, log),
		services.NewCommentService(store, feedCache, producer, log),
		log,
	)

	summary, err := seeder.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %d users, %d posts, %d follows, %d likes, %d comments\n",
		summary.Users, summary.Posts, summary.Follows, summary.Likes, summary.Comments)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

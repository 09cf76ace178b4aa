package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"backend/actors"
	"backend/api"
	"backend/brokers"
	"backend/comm"
	"backend/models"
	"backend/persistence"
	"backend/queue"
	"backend/utils"
)

type FilteredWriter struct {
	allowedClasses []string
	writer         io.Writer
}

func (f *FilteredWriter) Write(p []byte) (n int, err error) {
	message := string(p)
	for _, class := range f.allowedClasses {
		if strings.Contains(message, class) {
			return f.writer.Write(p)
		}
	}
	return len(p), nil // Ignore the log if it doesn't match allowed classes
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	utils.LoadEnvironmentVariables()

	filter := &FilteredWriter{
		allowedClasses: []string{"Main", "RoomCoordinator", "ConnectionRegistry", "Directory",
			"MongoPersistence", "DualQueue", "RedisQueue", "BoltQueue", "NatsBroker", "KafkaBroker",
			"RelayService", "AuthService", "Socket", "Handlers"},
		writer: io.Discard,
	}
	log.SetOutput(filter)
	filter.writer = io.Writer(os.Stdout)

	ginMode, err := utils.GetEnvVariable("GinMode")
	if err != nil {
		ginMode = "debug"
	}
	if ginMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	log.Printf("Main: GIN_MODE set to: %s\n", ginMode)

	uriMongo, err := utils.GetEnvVariable("URIMongo")
	if err != nil {
		log.Printf("Main: Error loading URIMongo, using default: %v\n", err)
		uriMongo = "mongodb://localhost:27017"
	}
	nameMongo, err := utils.GetEnvVariable("NameMongo")
	if err != nil {
		log.Printf("Main: Error loading NameMongo, using default: %v\n", err)
		nameMongo = "TeamHub"
	}
	mongoPersistence, err := persistence.NewMongoPersistence(uriMongo, nameMongo)
	if err != nil {
		log.Fatalf("Main: Error initializing MongoPersistence: %v\n", err)
	}

	redisAddr, err := utils.GetEnvVariable("RedisAddr")
	if err != nil {
		log.Printf("Main: Error loading RedisAddr, using default: %v\n", err)
		redisAddr = "localhost:6379"
	}
	redisPassword, _ := utils.GetEnvVariable("RedisPassword")
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Printf("Main: Redis unreachable at startup, offline queueing will fall back to disk: %v\n", err)
	}

	fallbackPath, err := utils.GetEnvVariable("FallbackQueuePath")
	if err != nil {
		fallbackPath = "offline_queue.db"
	}
	boltQueue, err := queue.NewBoltQueue(fallbackPath)
	if err != nil {
		log.Fatalf("Main: Error opening fallback queue at %s: %v\n", fallbackPath, err)
	}
	defer boltQueue.Close()
	redisQueue := queue.NewRedisQueue(redisClient)
	queueFactory := func(userId uuid.UUID) *queue.DualQueue {
		return queue.NewDualQueue(userId, redisQueue, boltQueue)
	}

	brokerKind, _ := utils.GetEnvVariable("BrokerKind")
	natsURL, _ := utils.GetEnvVariable("NatsURL")
	kafkaBrokers, _ := utils.GetEnvVariable("KafkaBrokers")
	broker, err := brokers.NewEventBroker(brokers.Config{
		Kind:         brokerKind,
		NatsURL:      natsURL,
		KafkaBrokers: kafkaBrokers,
	})
	if err != nil {
		log.Fatalf("Main: Error initializing event broker %q: %v\n", brokerKind, err)
	}
	if broker != nil {
		defer broker.Close()
	}

	directory := actors.NewDirectory(mongoPersistence, broker, queueFactory, actors.DefaultTimings())
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	directory.Start(ctx)
	defer directory.Stop()

	relayService := api.NewRelayService(directory)
	authService := api.NewAuthService(models.NewExchangeCodeStore(redisClient))

	r := gin.Default()

	allowedOrigins, err := utils.GetEnvVariable("AllowedOrigins")
	if err != nil {
		allowedOrigins = "*"
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(allowedOrigins, ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
	r.GET("/status", api.StatusHandler)
	r.GET("/metrics", api.MetricsHandler(directory))

	r.POST("/auth/exchange", authService.Exchange)

	r.GET("/ws/chat", comm.ChatSocketHandler(directory))
	r.GET("/ws/user", comm.UserSocketHandler(directory))

	internal := r.Group("/internal")
	internal.POST("/rooms/:conversationId/message", relayService.DeliverMessage)
	internal.POST("/rooms/:conversationId/typing", relayService.DeliverTyping)
	internal.POST("/users/:userId/notify", relayService.Notify)

	server, err := utils.GetEnvVariable("NameServer")
	if err != nil {
		log.Printf("Main: Error loading NameServer, using 'localhost': %v", err)
		server = "localhost"
	}
	port, err := utils.GetEnvVariable("PortServer")
	if err != nil {
		log.Printf("Main: Error loading PortServer, using '8081': %v", err)
		port = "8081"
	}
	address := fmt.Sprintf("%s:%s", server, port)
	log.Printf("Main: Server listening on %s", address)

	if err := r.Run(address); err != nil {
		log.Fatalf("Main: Error starting HTTP server: %v", err)
	}
}

// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"docqa-go/internal/config"
	"docqa-go/internal/extract"
	"docqa-go/internal/handler"
	"docqa-go/internal/middleware"
	"docqa-go/internal/model"
	"docqa-go/internal/pipeline"
	"docqa-go/internal/repository"
	"docqa-go/internal/service"
	"docqa-go/internal/vectorindex"
	"docqa-go/pkg/database"
	"docqa-go/pkg/embedding"
	"docqa-go/pkg/es"
	"docqa-go/pkg/kafka"
	"docqa-go/pkg/llm"
	"docqa-go/pkg/lock"
	"docqa-go/pkg/log"
	"docqa-go/pkg/storage"
	"docqa-go/pkg/tika"
	"docqa-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	seedDir := flag.String("seed", "initfile", "启动时导入的文档目录")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis
	var models []interface{}
	if cfg.Database.MySQL.AutoMigrate {
		models = append(models, &model.User{}, &model.Document{})
	}
	database.InitMySQL(cfg.Database.MySQL.DSN, models...)
	if cfg.Database.Redis.Addr != "" {
		database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	}

	// 4. 初始化存储与外部服务
	blobs := initBlobStore(cfg)
	store := initIndexStore(cfg)
	kafka.InitProducer(cfg.Kafka)
	defer func() {
		if err := kafka.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}()

	var remote extract.RemoteExtractor
	if tikaClient := tika.NewClient(cfg.Tika); tikaClient != nil {
		remote = tikaClient
	}
	extractor := extract.NewChain(extract.NewLocalParser(), remote)

	embeddingClient, err := embedding.NewClient(cfg.Embedding)
	if err != nil {
		log.Fatal("初始化 Embedding 客户端失败", err)
	}
	embedder := embedding.WithQueryCache(embeddingClient, cfg.Embedding.CacheSize, cfg.Embedding.CacheTTL)
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		log.Fatal("初始化 LLM 客户端失败", err)
	}

	// 5. 初始化 Repository
	userRepository := repository.NewUserRepository(database.DB)
	documentRepository := repository.NewDocumentRepository(database.DB)

	// 6. 初始化文件处理管道 (Processor)
	processor := pipeline.NewProcessor(documentRepository, blobs, extractor, embedder, store, cfg.Index, cfg.Upload.TempDir)

	var publish service.TaskPublisher
	if kafka.Enabled() {
		publish = kafka.ProduceIndexTask
	}

	// 7. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireMinutes)
	var blacklist token.Blacklist
	if database.RDB != nil {
		blacklist = token.NewRedisBlacklist(database.RDB)
	}
	userService := service.NewUserService(userRepository, jwtManager, blacklist, cfg.JWT.AdminUsers, cfg.Index.DefaultNamespace)
	documentService := service.NewDocumentService(documentRepository, blobs, extractor, cfg.Upload.TempDir,
		cfg.Upload.MaxSizeMB, cfg.Index.AutoIndexOnUpload, publish)
	indexService := service.NewIndexService(processor, publish)
	adminService := service.NewAdminService(userRepository)
	queryService := service.NewQueryService(store, embedder, llmClient, cfg.Index, cfg.LLM.Prompt)
	var historyService service.HistoryService
	if database.RDB != nil {
		historyService = service.NewHistoryService(repository.NewHistoryRepository(database.RDB))
	}

	// 8. 启动后台 Kafka 消费者
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	if cfg.Kafka.Enabled() {
		consumer := kafka.NewConsumer(cfg.Kafka, processor, database.RDB)
		go consumer.Run(bgCtx)
	}

	// 8.1 导入 seed 目录中的文档，归属第一个管理员
	go initSeedFiles(bgCtx, *seedDir, cfg.JWT.AdminUsers, userRepository, documentService)

	// 9. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	userHandler := handler.NewUserHandler(userService)
	documentHandler := handler.NewDocumentHandler(documentService)
	indexHandler := handler.NewIndexHandler(indexService)
	queryHandler := handler.NewQueryHandler(queryService, historyService)
	streamHandler := handler.NewStreamHandler(queryService, historyService, userService, jwtManager, blacklist)
	auth := middleware.AuthMiddleware(jwtManager, userService, blacklist)

	// 10. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(auth)
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.POST("/logout", userHandler.Logout)
			}
		}

		documents := apiV1.Group("/documents")
		documents.Use(auth)
		{
			documents.POST("/upload", documentHandler.Upload)
			documents.GET("", documentHandler.List)
			documents.GET("/:id", documentHandler.Get)
			documents.GET("/:id/preview", documentHandler.Preview)
		}

		nlp := apiV1.Group("/nlp")
		nlp.Use(auth)
		{
			nlp.GET("/query", queryHandler.Query)
			nlp.POST("/query", queryHandler.Query)
			if historyService != nil {
				nlp.GET("/history", handler.NewHistoryHandler(historyService).List)
			}
			// 管理员路由，需要同时通过认证和管理员授权两个中间件
			nlp.POST("/index", middleware.AdminAuthMiddleware(), indexHandler.Rebuild)
		}

		admin := apiV1.Group("/admin")
		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin.Use(auth, middleware.AdminAuthMiddleware())
		{
			adminHandler := handler.NewAdminHandler(adminService)
			admin.GET("/users/list", adminHandler.ListUsers)
			admin.PUT("/users/:userId/namespace", adminHandler.AssignNamespace)
		}

		// 流式问答 (WebSocket)，token 通过路径传递
		apiV1.GET("/query/stream/:token", streamHandler.Handle)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")
	cancelBg()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// initBlobStore 配置了 MinIO 凭据时使用对象存储，否则使用本地目录。
func initBlobStore(cfg config.Config) storage.BlobStore {
	if cfg.MinIO.Endpoint != "" && cfg.MinIO.AccessKeyID != "" {
		storage.InitMinIO(cfg.MinIO)
		return storage.NewMinioBlobStore(storage.MinioClient, cfg.MinIO.BucketName)
	}
	blobs, err := storage.NewLocalBlobStore(cfg.Upload.BlobDir)
	if err != nil {
		log.Fatal("初始化本地文件存储失败", err)
	}
	log.Infof("未配置 MinIO，使用本地目录 %s 保存上传文件", cfg.Upload.BlobDir)
	return blobs
}

// initIndexStore 根据 index.store 选择快照存储，再叠加持久化锁与加载缓存。
func initIndexStore(cfg config.Config) vectorindex.Store {
	var store vectorindex.Store
	switch cfg.Index.Store {
	case "minio":
		if storage.MinioClient == nil {
			storage.InitMinIO(cfg.MinIO)
		}
		store = vectorindex.NewMinioStore(storage.MinioClient, cfg.MinIO.BucketName, cfg.Index.Name)
	case "elasticsearch":
		client, err := es.InitES(cfg.Elasticsearch)
		if err != nil {
			log.Fatal("Elasticsearch 初始化失败", err)
		}
		store = vectorindex.NewESStore(client, cfg.Elasticsearch.IndexPrefix)
	case "file", "":
		store = vectorindex.NewFileStore(cfg.Index.Dir, cfg.Index.Name)
	default:
		log.Fatalf("未知的索引存储类型: %s", cfg.Index.Store)
	}
	log.Infof("向量索引存储: %s", cfg.Index.Store)

	lockers := lock.Chain{lock.NewLocalLocker()}
	if database.RDB != nil {
		lockers = append(lockers, lock.NewRedisLocker(database.RDB, "docqa:lock:", cfg.Index.LockTTL))
	}
	return vectorindex.WithCache(vectorindex.WithLock(store, lockers), cfg.Index.CacheSize, cfg.Index.CacheTTL)
}

// initSeedFiles 扫描目录下文件并通过标准上传流程导入（幂等，按标题去重）。
func initSeedFiles(ctx context.Context, dir string, adminUsers []string, userRepo repository.UserRepository, docSvc service.DocumentService) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("initSeedFiles: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	var owner *model.User
	for _, name := range adminUsers {
		if u, err := userRepo.FindByUsername(name); err == nil && u != nil {
			owner = u
			break
		}
	}
	if owner == nil {
		log.Warnf("initSeedFiles: 未找到管理员用户，跳过初始化导入")
		return
	}

	existing := make(map[string]bool)
	if docs, err := docSvc.List(ctx, owner); err == nil {
		for _, d := range docs {
			existing[d.Title] = true
		}
	}

	walkErr := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := d.Name()
		if existing[name] {
			log.Infof("initSeedFiles: 已存在，跳过: %s", name)
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			log.Warnf("initSeedFiles: 打开文件失败: %s, err=%v", path, err)
			return nil
		}
		defer f.Close()

		if _, err := docSvc.Upload(ctx, owner, name, f); err != nil {
			log.Warnf("initSeedFiles: 导入失败: %s, err=%v", path, err)
			return nil
		}
		log.Infof("initSeedFiles: 导入完成: %s", name)
		return nil
	})
	if walkErr != nil {
		log.Warnf("initSeedFiles: 遍历目录发生错误: %v", walkErr)
	}
}

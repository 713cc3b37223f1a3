package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"im-relay/internal/config"
	"im-relay/internal/logger"
	"im-relay/internal/models"
	"im-relay/internal/storage"
)

const timeLayout = "2006-01-02 15:04:05"

type memberView struct {
	UserID   uint   `yaml:"userId"`
	Username string `yaml:"username,omitempty"`
	Seq      int    `yaml:"seq"`
	JoinedAt string `yaml:"joinedAt"`
	IsAdmin  bool   `yaml:"isAdmin,omitempty"`
}

type conversationView struct {
	ID            uint         `yaml:"id"`
	IsGroup       bool         `yaml:"isGroup"`
	Name          string       `yaml:"name,omitempty"`
	AdminID       *uint        `yaml:"adminId,omitempty"`
	LastMessageID *uint        `yaml:"lastMessageId,omitempty"`
	LastMessageAt string       `yaml:"lastMessageAt,omitempty"`
	CreatedAt     string       `yaml:"createdAt"`
	Members       []memberView `yaml:"members,omitempty"`
}

func usage() {
	fmt.Println("使用方法:")
	fmt.Println("  admin show-conversation <conversationID>   - 显示会话信息及成员")
	fmt.Println("  admin list-members <conversationID>        - 按加入顺序列出会话成员")
	fmt.Println("  admin list-conversations <userID>          - 列出用户参与的会话")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 3 {
		usage()
	}
	id, err := strconv.ParseUint(os.Args[2], 10, 32)
	if err != nil {
		log.Fatalf("无效的ID: %v", err)
	}

	cfg, err := config.LoadConfig(os.Getenv("IM_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	if _, err := logger.New(logger.Config{Development: true, Level: "warn"}); err != nil {
		log.Fatalf("无法初始化日志: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("无法连接数据库: %v", err)
	}
	store, err := storage.OpenChatStore(ctx, cfg, db)
	if err != nil {
		log.Fatalf("无法打开会话存储: %v", err)
	}
	defer store.Close(context.Background())
	userRepo := storage.NewGormUserRepository(db)

	var out interface{}
	switch os.Args[1] {
	case "show-conversation":
		conversation, err := store.Conversations.GetByID(ctx, uint(id))
		if err != nil {
			log.Fatalf("获取会话失败: %v", err)
		}
		out = toView(conversation, usernames(ctx, userRepo, conversation))

	case "list-members":
		conversation, err := store.Conversations.GetByID(ctx, uint(id))
		if err != nil {
			log.Fatalf("获取会话失败: %v", err)
		}
		out = toView(conversation, usernames(ctx, userRepo, conversation)).Members

	case "list-conversations":
		conversations, err := store.Conversations.ListForUser(ctx, uint(id))
		if err != nil {
			log.Fatalf("获取会话列表失败: %v", err)
		}
		views := make([]conversationView, 0, len(conversations))
		for _, c := range conversations {
			v := toView(c, nil)
			v.Members = nil
			views = append(views, v)
		}
		out = views

	default:
		log.Printf("未知命令: %s", os.Args[1])
		usage()
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		log.Fatalf("输出 YAML 失败: %v", err)
	}
	_ = enc.Close()
}

func usernames(ctx context.Context, userRepo storage.UserRepository, c *models.Conversation) map[uint]string {
	ids := make([]uint, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.UserID)
	}
	users, err := userRepo.GetMultipleBasicInfoByIDs(ctx, ids)
	if err != nil {
		log.Printf("获取成员用户名失败: %v", err)
		return nil
	}
	names := make(map[uint]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Username
	}
	return names
}

func toView(c *models.Conversation, names map[uint]string) conversationView {
	v := conversationView{
		ID:            c.ID,
		IsGroup:       c.IsGroup,
		Name:          c.Name,
		AdminID:       c.AdminID,
		LastMessageID: c.LastMessageID,
		CreatedAt:     c.CreatedAt.Format(timeLayout),
	}
	if c.LastMessageAt != nil {
		v.LastMessageAt = c.LastMessageAt.Format(timeLayout)
	}
	for _, m := range c.Members {
		v.Members = append(v.Members, memberView{
			UserID:   m.UserID,
			Username: names[m.UserID],
			Seq:      m.Seq,
			JoinedAt: m.JoinedAt.Format(timeLayout),
			IsAdmin:  c.AdminID != nil && *c.AdminID == m.UserID,
		})
	}
	return v
}

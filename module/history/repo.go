package history

import (
	"context"
	"time"

	"TProject/module/chat"
	"TProject/module/notify"
	"TProject/tools/errs"
	"TProject/tools/ids"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// 集合名
const (
	MsgCollection = "chat_message"
	AnnCollection = "announcement"
)

// msgDoc 一条已确认的会话消息。查询路径永远是
// conversation_key + created_at_ms 倒序，索引也按这个建。
type msgDoc struct {
	MsgID           string `bson:"msg_id"`
	ConversationKey string `bson:"conversation_key"`
	SenderID        string `bson:"sender_id"`
	Body            string `bson:"body"`
	CreatedAtMS     int64  `bson:"created_at_ms"`
}

type annDoc struct {
	AnnID       string `bson:"ann_id"`
	ScopeID     string `bson:"temple_id"`
	CategoryID  string `bson:"subcategory_id"`
	Title       string `bson:"title"`
	Body        string `bson:"description"`
	CreatedAtMS int64  `bson:"created_at_ms"`
}

// Repo Mongo 持久化：消息历史的分页读取、发送落库、公告存档。
// 同时实现 chat.History 和 chat.Sender。
type Repo struct {
	msgColl *mongo.Collection
	annColl *mongo.Collection
}

func NewRepo(db *mongo.Database) *Repo {
	return &Repo{
		msgColl: db.Collection(MsgCollection),
		annColl: db.Collection(AnnCollection),
	}
}

// EnsureIndexes 建查询索引；幂等，启动时调用。
func (r *Repo) EnsureIndexes(ctx context.Context) error {
	_, err := r.msgColl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_key", Value: 1}, {Key: "created_at_ms", Value: -1}},
	})
	if err != nil {
		return errs.WrapMsg(err, "ensure message index")
	}
	_, err = r.annColl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "temple_id", Value: 1}, {Key: "subcategory_id", Value: 1}, {Key: "created_at_ms", Value: -1}},
	})
	return errs.WrapMsg(err, "ensure announcement index")
}

// LoadPage 按创建时间倒序取第 page 页（页码从1起）。
func (r *Repo) LoadPage(ctx context.Context, conversationKey string, page, pageSize int) ([]chat.Message, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = chat.DefaultPageSize
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at_ms", Value: -1}}).
		SetSkip(int64((page - 1) * pageSize)).
		SetLimit(int64(pageSize))
	cur, err := r.msgColl.Find(ctx, bson.M{"conversation_key": conversationKey}, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "find messages", "key", conversationKey, "page", page)
	}
	defer cur.Close(ctx)

	var docs []msgDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errs.WrapMsg(err, "decode messages", "key", conversationKey)
	}
	out := make([]chat.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, chat.Message{
			ID:              d.MsgID,
			ConversationKey: d.ConversationKey,
			SenderID:        d.SenderID,
			Body:            d.Body,
			CreatedAtMS:     d.CreatedAtMS,
			Delivery:        chat.DeliveryConfirmed,
		})
	}
	return out, nil
}

// Send 落库一条消息并返回服务端ID与时间戳。
func (r *Repo) Send(ctx context.Context, conversationKey, senderID, body string) (chat.SendReceipt, error) {
	doc := msgDoc{
		MsgID:           ids.GenerateString(),
		ConversationKey: conversationKey,
		SenderID:        senderID,
		Body:            body,
		CreatedAtMS:     time.Now().UnixMilli(),
	}
	if _, err := r.msgColl.InsertOne(ctx, doc); err != nil {
		return chat.SendReceipt{}, errs.WrapMsg(err, "insert message", "key", conversationKey)
	}
	return chat.SendReceipt{ID: doc.MsgID, CreatedAtMS: doc.CreatedAtMS}, nil
}

// SaveAnnouncement 存档一条公告；缺ID/时间戳时补齐后返回。
func (r *Repo) SaveAnnouncement(ctx context.Context, a notify.Announcement) (notify.Announcement, error) {
	if a.ID == "" {
		a.ID = ids.GenerateString()
	}
	if a.TimestampMS == 0 {
		a.TimestampMS = time.Now().UnixMilli()
	}
	doc := annDoc{
		AnnID:       a.ID,
		ScopeID:     a.ScopeID,
		CategoryID:  a.CategoryKey,
		Title:       a.Title,
		Body:        a.Body,
		CreatedAtMS: a.TimestampMS,
	}
	if _, err := r.annColl.InsertOne(ctx, doc); err != nil {
		return a, errs.WrapMsg(err, "insert announcement", "scope", a.ScopeID)
	}
	return a, nil
}

// RecentAnnouncements 某 (scope, category) 下最近的公告，新→旧。
func (r *Repo) RecentAnnouncements(ctx context.Context, scopeID, categoryID string, limit int) ([]notify.Announcement, error) {
	if limit <= 0 || limit > notify.BucketCap {
		limit = notify.BucketCap
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at_ms", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := r.annColl.Find(ctx, bson.M{"temple_id": scopeID, "subcategory_id": categoryID}, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "find announcements", "scope", scopeID)
	}
	defer cur.Close(ctx)

	var docs []annDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errs.WrapMsg(err, "decode announcements", "scope", scopeID)
	}
	out := make([]notify.Announcement, 0, len(docs))
	for _, d := range docs {
		out = append(out, notify.Announcement{
			ID:          d.AnnID,
			ScopeID:     d.ScopeID,
			CategoryKey: d.CategoryID,
			Title:       d.Title,
			Body:        d.Body,
			TimestampMS: d.CreatedAtMS,
		})
	}
	return out, nil
}

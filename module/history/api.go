package history

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"TProject/logger"
	"TProject/middleware/security"
	"TProject/module/channel"
	"TProject/module/chat"
	"TProject/module/notify"
	"TProject/service/realtime"
	"TProject/tools/errs"

	"github.com/gin-gonic/gin"
)

// AnnouncementPublisher 把公告送进投递管道（Kafka 桥或直接上总线）。
type AnnouncementPublisher interface {
	PublishAnnouncement(ctx context.Context, a notify.Announcement) error
}

// API 历史与公告的 REST 面。消息读写打在 Mongo 上；
// 发送成功后顺手把实时事件发上总线，REST-only 客户端也能让对端收到推送。
type API struct {
	repo      *Repo
	bus       realtime.Bus
	announcer AnnouncementPublisher
}

func NewAPI(repo *Repo, bus realtime.Bus, announcer AnnouncementPublisher) *API {
	return &API{repo: repo, bus: bus, announcer: announcer}
}

func (a *API) Register(r gin.IRouter, auth gin.HandlerFunc) {
	g := r.Group("/api", auth)
	g.GET("/conversations/:peer/messages", a.listDirect)
	g.POST("/conversations/:peer/messages", a.sendDirect)
	g.GET("/groups/:id/messages", a.listGroup)
	g.POST("/groups/:id/messages", a.sendGroup)
	g.GET("/announcements/:temple/:subcategory", a.listAnnouncements)
	g.POST("/announcements", a.publishAnnouncement)
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "ok", "data": data})
}

func fail(c *gin.Context, status int, err error) {
	var code errs.CodeError
	if cerr, okc := errs.Unwrap(err).(*errs.CodeError); okc {
		code = *cerr
	} else {
		code = errs.ErrInternalServer.WithDetail(err.Error())
	}
	c.JSON(status, code)
}

func pageParam(c *gin.Context) int {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

func (a *API) listDirect(c *gin.Context) {
	key := channel.Conversation(security.UserID(c), c.Param("peer"))
	a.listMessages(c, key)
}

func (a *API) listGroup(c *gin.Context) {
	a.listMessages(c, channel.Group(c.Param("id")))
}

func (a *API) listMessages(c *gin.Context, key string) {
	page := pageParam(c)
	msgs, err := a.repo.LoadPage(c.Request.Context(), key, page, chat.DefaultPageSize)
	if err != nil {
		fail(c, http.StatusBadGateway, err)
		return
	}
	ok(c, gin.H{
		"conversationKey": key,
		"page":            page,
		"messages":        msgs,
		"exhausted":       len(msgs) < chat.DefaultPageSize,
	})
}

type sendReq struct {
	Body string `json:"body" binding:"required"`
}

func (a *API) sendDirect(c *gin.Context) {
	peer := c.Param("peer")
	uid := security.UserID(c)
	a.sendMessage(c, channel.Conversation(uid, peer), peer)
}

func (a *API) sendGroup(c *gin.Context) {
	id := c.Param("id")
	a.sendMessage(c, channel.Group(id), id)
}

func (a *API) sendMessage(c *gin.Context, key, to string) {
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, errs.ErrArgs.WrapMsg("bind send request", "err", err))
		return
	}
	uid := security.UserID(c)
	rcpt, err := a.repo.Send(c.Request.Context(), key, uid, req.Body)
	if err != nil {
		fail(c, http.StatusBadGateway, err)
		return
	}

	// 实时推送失败不影响发送结果：消息已落库，订阅方可从历史补齐。
	live := chat.LiveMessage{ID: rcpt.ID, From: uid, To: to, Body: req.Body, TimestampMS: rcpt.CreatedAtMS}
	raw, _ := json.Marshal(live)
	hdr := map[string]string{realtime.HeaderMsgID: rcpt.ID}
	if err := a.bus.Publish(c.Request.Context(), key, channel.EventChatMessage, raw, hdr); err != nil {
		logger.Warnf("publish live message on %s: %v", key, err)
	}
	ok(c, rcpt)
}

func (a *API) listAnnouncements(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	anns, err := a.repo.RecentAnnouncements(c.Request.Context(),
		c.Param("temple"), c.Param("subcategory"), limit)
	if err != nil {
		fail(c, http.StatusBadGateway, err)
		return
	}
	ok(c, anns)
}

func (a *API) publishAnnouncement(c *gin.Context) {
	var ann notify.Announcement
	if err := c.ShouldBindJSON(&ann); err != nil {
		fail(c, http.StatusBadRequest, errs.ErrArgs.WrapMsg("bind announcement", "err", err))
		return
	}
	if ann.ScopeID == "" || ann.CategoryKey == "" {
		fail(c, http.StatusBadRequest, errs.ErrArgs.WrapMsg("templeid and subcategory required"))
		return
	}
	ann, err := a.repo.SaveAnnouncement(c.Request.Context(), ann)
	if err != nil {
		fail(c, http.StatusBadGateway, err)
		return
	}
	if err := a.announcer.PublishAnnouncement(c.Request.Context(), ann); err != nil {
		fail(c, http.StatusBadGateway, err)
		return
	}
	ok(c, ann)
}

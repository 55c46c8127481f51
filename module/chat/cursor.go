package chat

import (
	"context"
	"sync"

	"TProject/tools/errs"
)

const DefaultPageSize = 20

// Cursor 历史分页游标。后端按创建时间倒序返回，这里翻转成升序交给展示层。
// 短页（返回数 < pageSize）即翻到头；失败不前进页码，重试会请求同一页。
type Cursor struct {
	history  History
	key      string
	pageSize int

	mu        sync.Mutex
	page      int // 已成功加载到的页码，0 表示还没加载过
	exhausted bool
	inFlight  bool
}

func NewCursor(history History, conversationKey string, pageSize int) *Cursor {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Cursor{
		history:  history,
		key:      conversationKey,
		pageSize: pageSize,
	}
}

// LoadPage 拉取指定页并按时间升序返回。有请求在途时返回空页。
func (c *Cursor) LoadPage(ctx context.Context, page int) ([]Message, error) {
	msgs, _, err := c.loadPage(ctx, page)
	return msgs, err
}

// loadPage 同 LoadPage，另给出 loaded：false 表示有请求在途、本次被
// 跳过——调用方不能把跳过当成"这一页是空的"。
func (c *Cursor) loadPage(ctx context.Context, page int) ([]Message, bool, error) {
	if page < 1 {
		return nil, false, errs.ErrArgs.WrapMsg("page must be >= 1", "page", page)
	}
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return nil, false, nil
	}
	c.inFlight = true
	c.mu.Unlock()

	msgs, err := c.history.LoadPage(ctx, c.key, page, c.pageSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
	if err != nil {
		// 页码不动，重试拉同一页
		return nil, false, errs.ErrNetwork.WrapMsg("load history page", "key", c.key, "page", page, "err", err)
	}
	c.page = page
	c.exhausted = len(msgs) < c.pageSize
	sortAscending(msgs)
	return msgs, true, nil
}

// LoadMore 拉取下一页。已翻到头或有请求在途时是 no-op：
// 返回空页且不前进——快速连续滚动触发的重复调用就挡在这里。
func (c *Cursor) LoadMore(ctx context.Context) ([]Message, error) {
	c.mu.Lock()
	if c.exhausted || c.inFlight {
		c.mu.Unlock()
		return nil, nil
	}
	next := c.page + 1
	c.mu.Unlock()
	return c.LoadPage(ctx, next)
}

func (c *Cursor) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

func (c *Cursor) Page() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

func (c *Cursor) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.page = 0
	c.exhausted = false
	c.inFlight = false
}

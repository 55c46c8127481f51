package notify

// BucketCap 每个分类桶最多保留的条数，超出淘汰最老的。
const BucketCap = 50

// Event 一条通知，按分类分桶存放，桶内新→旧。
type Event struct {
	ID          string `json:"id"`
	CategoryKey string `json:"subcategoryId"`
	Title       string `json:"title"`
	Body        string `json:"content"`
	TimestampMS int64  `json:"timestamp"`
	Read        bool   `json:"read"`
	ScopeID     string `json:"templeid,omitempty"`
}

// Announcement 公告频道上的线格式（沿用门户端发布的字段名）。
type Announcement struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"description"`
	CategoryKey string `json:"subcategory"`
	ScopeID     string `json:"templeid"`
	TimestampMS int64  `json:"timestamp"`
}

package dispatcher

import (
	"context"
	"encoding/json"
	"strconv"

	"TProject/module/channel"
	"TProject/module/notify"
	"TProject/service/realtime"
	"TProject/tools/errs"
)

// DirectAnnouncer 不经 Kafka，公告直接发上实时总线。
// 单节点部署和测试用；集群部署换成 kafka.Bridge。
type DirectAnnouncer struct {
	Bus realtime.Bus
}

func (d DirectAnnouncer) PublishAnnouncement(ctx context.Context, a notify.Announcement) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return errs.WrapMsg(err, "marshal announcement")
	}
	msgID := "announcement-" + a.ID
	if a.ID == "" {
		msgID = "announcement-" + strconv.FormatInt(a.TimestampMS, 10)
	}
	ch := channel.Category(a.ScopeID, a.CategoryKey)
	hdr := map[string]string{realtime.HeaderMsgID: msgID}
	return d.Bus.Publish(ctx, ch, channel.EventNewAnnouncement, raw, hdr)
}

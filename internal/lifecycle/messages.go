package lifecycle

import (
	"fmt"
	"strings"
	"time"
)

const (
	msgExhausted      = "ライフが0になりました。一定時間観戦モードになります。"
	msgReviveHint     = "復活までの時間は「/checkrevive」でいつでも確認できます！"
	msgStillLocked    = "あなたはまだ観戦モードの時間が残っています。"
	msgStillLockedTip = "復活までの時間は「/checkrevive」で確認できます！"
	msgWeeklyReset    = "一週間が経過したため、全員のライフを初期化しました。"
)

func deathMessage(name string, lives int) string {
	return fmt.Sprintf("%s died [残りライフ: %d]", name, lives)
}

// FormatRemaining renders d as "D日 H時間 M分 S秒", leaving out zero components. Anything under a
// second reads "数秒以内".
func FormatRemaining(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	parts := []struct {
		n    int64
		unit string
	}{
		{secs / 86400, "日"},
		{(secs / 3600) % 24, "時間"},
		{(secs / 60) % 60, "分"},
		{secs % 60, "秒"},
	}
	var b strings.Builder
	for _, p := range parts {
		if p.n == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d%s", p.n, p.unit)
	}
	if b.Len() == 0 {
		return "数秒以内"
	}
	return b.String()
}

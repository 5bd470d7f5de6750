package websocket

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

// gorilla reports close frames carrying codes outside 1000-1015 and 3000-4999 (such as
// mws.CloseClientDisconnect) as a protocol error with this prefix instead of a CloseError.
const badCloseCodePrefix = "websocket: bad close code "

// closeFromError extracts the close code and reason the peer sent from a read error.
// ok is false when err is not a close sent by the peer. The reason of a rejected code
// is not available.
func closeFromError(err error) (code int, reason string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}

	if rest, found := strings.CutPrefix(err.Error(), badCloseCodePrefix); found {
		if n, convErr := strconv.Atoi(rest); convErr == nil {
			return n, "", true
		}
	}
	return 0, "", false
}

// truncateCloseReason shortens reason to fit a close frame without splitting a rune.
func truncateCloseReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

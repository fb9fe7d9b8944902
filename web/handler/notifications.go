package handler

import (
	"net/http"

	"github.com/ethereum/go-ethereum/event"

	"github.com/screwyprof/fundme/notify"
	"github.com/screwyprof/fundme/pkg/httpkit"
	"github.com/screwyprof/fundme/web/api"
)

const GetNotificationsRoute = http.MethodGet + " " + "/notifications"

// NoticeLog is the notification center as seen by the API
type NoticeLog interface {
	Recent() []notify.Notice
	Subscribe(ch chan<- notify.Notice) event.Subscription
}

type Notifications struct {
	notices NoticeLog
}

func NewNotifications(n NoticeLog) *Notifications {
	return &Notifications{notices: n}
}

func (h *Notifications) AddRoutes(m *http.ServeMux) {
	m.Handle(GetNotificationsRoute, httpkit.HandlerFunc(h.GetNotifications))
}

func (h *Notifications) GetNotifications(_ http.ResponseWriter, _ *http.Request) http.HandlerFunc {
	recent := h.notices.Recent()
	if recent == nil {
		recent = []notify.Notice{}
	}
	return httpkit.JSON(api.NoticesResponse{Data: recent})
}

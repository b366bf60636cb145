package event

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
	"github.com/hitoshi/slotswap/internal/model"
)

const icalProductID = "-//slotswap//slotswap calendar//EN"

const emptyCalendar = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:" + icalProductID + "\r\nEND:VCALENDAR\r\n"

// ExportICal は所有イベントをiCalendar形式でwに書き出す。
func (s *Service) ExportICal(ctx context.Context, ownerID string, w io.Writer) error {
	events, err := s.ListMine(ctx, ownerID)
	if err != nil {
		return err
	}
	// エンコーダーは子コンポーネントのないVCALENDARを受け付けない
	if len(events) == 0 {
		_, err := io.WriteString(w, emptyCalendar)
		return err
	}

	if err := ical.NewEncoder(w).Encode(BuildCalendar(events, s.now())); err != nil {
		return fmt.Errorf("iCalendarのエンコードに失敗しました: %w", err)
	}
	return nil
}

// BuildCalendar はイベント一覧からVCALENDARを組み立てる。
// UIDにはイベントIDを使う。
func BuildCalendar(events []*model.Event, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, icalProductID)

	for _, e := range events {
		ev := ical.NewEvent()
		ev.Props.SetText(ical.PropUID, e.ID)
		ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeStart, e.StartTime.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeEnd, e.EndTime.UTC())
		ev.Props.SetText(ical.PropSummary, e.Title)
		ev.Props.SetText(ical.PropStatus, icalStatus(e.Status))
		ev.Props.SetText(ical.PropCategories, string(e.Status))
		cal.Children = append(cal.Children, ev.Component)
	}
	return cal
}

// icalStatus はイベント状態をVEVENTのSTATUSに対応付ける。
// 交換に出している予定は確定していないものとして扱う。
func icalStatus(s model.EventStatus) string {
	switch s {
	case model.EventStatusSwappable, model.EventStatusSwapPending:
		return "TENTATIVE"
	default:
		return "CONFIRMED"
	}
}

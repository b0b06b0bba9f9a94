package chatbot

import (
	"context"
	"fmt"
	"time"
)

// Appointment is a resolved service point plus a proposed visit slot.
type Appointment struct {
	UnitName string
	Address  string
	Date     string // human-readable, pt-BR
	Time     string
}

// ServicePointLocator resolves a postal code or coordinate pair to the
// nearest service unit and proposes an appointment slot.
type ServicePointLocator interface {
	Locate(ctx context.Context, location string) (*Appointment, error)
}

// StaticLocator proposes the pilot unit with a slot three business days out.
// TODO: replace with the geo lookup service once the units API is available.
type StaticLocator struct {
	now func() time.Time
}

// NewStaticLocator creates the fixed-unit locator.
func NewStaticLocator() *StaticLocator {
	return &StaticLocator{now: time.Now}
}

func (l *StaticLocator) Locate(ctx context.Context, location string) (*Appointment, error) {
	date := addBusinessDays(l.now(), 3)
	return &Appointment{
		UnitName: "CRAS Brasília (Asa Sul)",
		Address:  "Av. L2 Sul, SGAS 614/615",
		Date:     formatDatePTBR(date),
		Time:     "às 10:00",
	}, nil
}

var weekdaysPTBR = [...]string{
	"domingo", "segunda-feira", "terça-feira", "quarta-feira",
	"quinta-feira", "sexta-feira", "sábado",
}

var monthsPTBR = [...]string{
	"janeiro", "fevereiro", "março", "abril", "maio", "junho",
	"julho", "agosto", "setembro", "outubro", "novembro", "dezembro",
}

// formatDatePTBR renders a date as "sexta-feira, 05 de setembro".
func formatDatePTBR(t time.Time) string {
	return fmt.Sprintf("%s, %02d de %s", weekdaysPTBR[t.Weekday()], t.Day(), monthsPTBR[t.Month()-1])
}

// addBusinessDays advances t by n weekdays, skipping Saturdays and Sundays.
func addBusinessDays(t time.Time, n int) time.Time {
	for n > 0 {
		t = t.AddDate(0, 0, 1)
		if t.Weekday() != time.Saturday && t.Weekday() != time.Sunday {
			n--
		}
	}
	return t
}

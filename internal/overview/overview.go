// Package overview aggregates the dashboard figures from the four collections.
package overview

import (
	"sort"
	"time"

	"github.com/boddenberg/consultant-bfa-go/internal/domain"
)

// NextBookings is how many upcoming bookings the overview lists.
const NextBookings = 5

// Compute derives the overview at now. It is pure: same inputs, same output.
func Compute(clients []domain.Client, projects []domain.Project, expenses []domain.Expense, bookings []domain.Booking, now time.Time) domain.Overview {
	today := domain.NewDate(now)
	return domain.Overview{
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Clients:     clientStats(clients),
		Projects:    projectStats(projects),
		Expenses:    expenseStats(expenses, now),
		Bookings:    bookingStats(bookings, today),
	}
}

func clientStats(clients []domain.Client) domain.ClientStats {
	s := domain.ClientStats{Total: len(clients)}
	for _, c := range clients {
		switch c.Status {
		case domain.ClientActive:
			s.Active++
		case domain.ClientInactive:
			s.Inactive++
		case domain.ClientProspect:
			s.Prospect++
		}
	}
	return s
}

func projectStats(projects []domain.Project) domain.ProjectStats {
	s := domain.ProjectStats{
		Total:    len(projects),
		ByStatus: make(map[domain.ProjectStatus]int),
	}
	progress := 0
	for _, p := range projects {
		s.ByStatus[p.Status]++
		if p.Status != domain.ProjectCompleted {
			s.Active++
		}
		progress += p.Progress
		if p.Budget != nil {
			s.TotalBudget += *p.Budget
		}
		if p.Spent != nil {
			s.TotalSpent += *p.Spent
		}
	}
	if len(projects) > 0 {
		s.AverageProgress = float64(progress) / float64(len(projects))
	}
	return s
}

func expenseStats(expenses []domain.Expense, now time.Time) domain.ExpenseStats {
	s := domain.ExpenseStats{Count: len(expenses)}
	month := now.Format("2006-01")
	for _, e := range expenses {
		s.Total += e.Amount
		switch e.Status {
		case domain.ExpensePending:
			s.Pending += e.Amount
		case domain.ExpenseApproved:
			s.Approved += e.Amount
		case domain.ExpenseReimbursed:
			s.Reimbursed += e.Amount
		}
		if len(e.Date) >= 7 && string(e.Date[:7]) == month {
			s.ThisMonth += e.Amount
		}
		if !e.Receipt {
			s.WithoutReceipt++
		}
	}
	return s
}

func bookingStats(bookings []domain.Booking, today domain.Date) domain.BookingStats {
	s := domain.BookingStats{Total: len(bookings), Next: []domain.Booking{}}
	var upcoming []domain.Booking
	for _, b := range bookings {
		switch b.Status {
		case domain.BookingConfirmed:
			s.Confirmed++
		case domain.BookingCompleted:
			s.Completed++
		case domain.BookingCancelled:
			s.Cancelled++
		}

		// Dates are YYYY-MM-DD so string order is calendar order.
		switch {
		case b.Date >= today && (b.Status == domain.BookingScheduled || b.Status == domain.BookingConfirmed):
			s.Upcoming++
			upcoming = append(upcoming, b)
		case b.Date < today || b.Status == domain.BookingCompleted:
			s.Past++
		}
	}

	sort.SliceStable(upcoming, func(i, j int) bool {
		if upcoming[i].Date != upcoming[j].Date {
			return upcoming[i].Date < upcoming[j].Date
		}
		return upcoming[i].Time < upcoming[j].Time
	})
	if len(upcoming) > NextBookings {
		upcoming = upcoming[:NextBookings]
	}
	s.Next = append(s.Next, upcoming...)
	return s
}

package domain

// ============================================================
// Dashboard overview — derived client-side from the four collections
// ============================================================

// Overview is returned by GET /v1/dashboard/overview.
type Overview struct {
	GeneratedAt string `json:"generatedAt"`

	Clients  ClientStats  `json:"clients"`
	Projects ProjectStats `json:"projects"`
	Expenses ExpenseStats `json:"expenses"`
	Bookings BookingStats `json:"bookings"`
}

type ClientStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
	Prospect int `json:"prospect"`
}

type ProjectStats struct {
	Total           int                   `json:"total"`
	Active          int                   `json:"active"`
	ByStatus        map[ProjectStatus]int `json:"byStatus"`
	AverageProgress float64               `json:"averageProgress"`
	TotalBudget     float64               `json:"totalBudget"`
	TotalSpent      float64               `json:"totalSpent"`
}

type ExpenseStats struct {
	Count          int     `json:"count"`
	Total          float64 `json:"total"`
	Pending        float64 `json:"pending"`
	Approved       float64 `json:"approved"`
	Reimbursed     float64 `json:"reimbursed"`
	ThisMonth      float64 `json:"thisMonth"`
	WithoutReceipt int     `json:"withoutReceipt"`
}

type BookingStats struct {
	Total     int       `json:"total"`
	Upcoming  int       `json:"upcoming"`
	Past      int       `json:"past"`
	Confirmed int       `json:"confirmed"`
	Completed int       `json:"completed"`
	Cancelled int       `json:"cancelled"`
	Next      []Booking `json:"next"`
}

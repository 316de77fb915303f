package domain

// Address — адрес доставки. В заказ копируется по значению.
type Address struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// User — покупатель. Адрес может отсутствовать.
type User struct {
	ID      string
	Email   string
	Name    string
	Address *Address
}

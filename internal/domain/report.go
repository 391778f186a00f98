package domain

type ClientSpend struct {
	Client     Client `json:"client"`
	TotalSpend int64  `json:"total_spend"`
}

type SellerSpend struct {
	Seller     Seller `json:"seller"`
	TotalSpend int64  `json:"total_spend"`
}

package domain

import "time"

// Transaction is an immutable audit entry recording one successful operation
// against a product.
type Transaction struct {
	ProductID uint64    `json:"product_id"`
	Type      string    `json:"transaction_type"`
	Performer Identity  `json:"performer"`
	Timestamp time.Time `json:"timestamp"`
}

// Transaction labels written to product logs.
const (
	LabelProductCreated        = "Product Created"
	LabelSentByManufacturer    = "Sent by Manufacturer"
	LabelReceivedByDistributor = "Received by Distributor"
	LabelSentByDistributor     = "Sent by Distributor"
	LabelReceivedByRetailer    = "Received by Retailer"
	LabelDetailsUpdated        = "Product Details Updated"
)

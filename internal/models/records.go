package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Target table names
const (
	TableUsers             = "users"
	TableProducts          = "products"
	TableOrders            = "orders"
	TableOrderItems        = "order_items"
	TableProductCategories = "product_categories"
)

// KeyColumn is the primary key column shared by every target table
const KeyColumn = "id"

// MoneyScale is the declared scale of the NUMERIC money columns
const MoneyScale int32 = 2

// Record is a typed projection of one row in a target table
type Record interface {
	// Table returns the target table name
	Table() string
	// Key returns the primary key value
	Key() int64
	// Columns returns every non-key column mapped to a driver value, nil for SQL NULL
	Columns() map[string]interface{}
}

// User is a row of the users table
type User struct {
	ID        int64
	Email     *string
	IsActive  *bool
	CreatedAt *time.Time
	LastLogin *time.Time
}

func (u *User) Table() string { return TableUsers }
func (u *User) Key() int64 { return u.ID }

func (u *User) Columns() map[string]interface{} {
	return map[string]interface{}{
		"email":      nullable(u.Email),
		"is_active":  nullable(u.IsActive),
		"created_at": nullable(u.CreatedAt),
		"last_login": nullable(u.LastLogin),
	}
}

// ProductCategory is a row of the product_categories table
type ProductCategory struct {
	ID   int64
	Name *string
}

func (c *ProductCategory) Table() string { return TableProductCategories }
func (c *ProductCategory) Key() int64 { return c.ID }

func (c *ProductCategory) Columns() map[string]interface{} {
	return map[string]interface{}{
		"name": nullable(c.Name),
	}
}

// Product is a row of the products table
type Product struct {
	ID          int64
	Name        *string
	Description *string
	Price       decimal.NullDecimal
	CategoryID  *int64
}

func (p *Product) Table() string { return TableProducts }
func (p *Product) Key() int64 { return p.ID }

func (p *Product) Columns() map[string]interface{} {
	return map[string]interface{}{
		"name":        nullable(p.Name),
		"description": nullable(p.Description),
		"price":       money(p.Price),
		"category_id": nullable(p.CategoryID),
	}
}

// Order is a row of the orders table
type Order struct {
	ID          int64
	UserID      *int64
	Status      *string
	TotalAmount decimal.NullDecimal
	CreatedAt   *time.Time
}

func (o *Order) Table() string { return TableOrders }
func (o *Order) Key() int64 { return o.ID }

func (o *Order) Columns() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      nullable(o.UserID),
		"status":       nullable(o.Status),
		"total_amount": money(o.TotalAmount),
		"created_at":   nullable(o.CreatedAt),
	}
}

// OrderItem is a row of the order_items table
type OrderItem struct {
	ID        int64
	OrderID   *int64
	ProductID *int64
	Quantity  *int64
	Price     decimal.NullDecimal
}

func (i *OrderItem) Table() string { return TableOrderItems }
func (i *OrderItem) Key() int64 { return i.ID }

func (i *OrderItem) Columns() map[string]interface{} {
	return map[string]interface{}{
		"order_id":   nullable(i.OrderID),
		"product_id": nullable(i.ProductID),
		"quantity":   nullable(i.Quantity),
		"price":      money(i.Price),
	}
}

func nullable[T any](v *T) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// money renders a decimal with the column scale so every driver receives the
// same textual NUMERIC literal.
func money(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.StringFixed(MoneyScale)
}

package codec

import (
	"time"

	"github.com/shopspring/decimal"

	"cdc-sink/internal/models"
)

// DecodeFunc builds the domain record for one table from a row image
type DecodeFunc func(models.Fields) (models.Record, error)

// row reads fields from a row image, keeping the first coercion error
type row struct {
	f   models.Fields
	err error
}

func (r *row) key() int64 {
	if r.err != nil {
		return 0
	}
	v, err := requiredKey(r.f, models.KeyColumn)
	r.err = err
	return v
}

func (r *row) integer(field string) *int64 {
	if r.err != nil {
		return nil
	}
	v, err := optionalInt64(r.f, field)
	r.err = err
	return v
}

func (r *row) text(field string) *string {
	if r.err != nil {
		return nil
	}
	v, err := optionalString(r.f, field)
	r.err = err
	return v
}

func (r *row) boolean(field string) *bool {
	if r.err != nil {
		return nil
	}
	v, err := optionalBool(r.f, field)
	r.err = err
	return v
}

func (r *row) instant(field string) *time.Time {
	if r.err != nil {
		return nil
	}
	v, err := optionalEpochMillis(r.f, field)
	r.err = err
	return v
}

func (r *row) money(field string) decimal.NullDecimal {
	if r.err != nil {
		return decimal.NullDecimal{}
	}
	v, err := optionalMoney(r.f, field)
	r.err = err
	return v
}

func DecodeUser(f models.Fields) (models.Record, error) {
	r := &row{f: f}
	u := &models.User{
		ID:        r.key(),
		Email:     r.text("email"),
		IsActive:  r.boolean("is_active"),
		CreatedAt: r.instant("created_at"),
		LastLogin: r.instant("last_login"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return u, nil
}

func DecodeProduct(f models.Fields) (models.Record, error) {
	r := &row{f: f}
	p := &models.Product{
		ID:          r.key(),
		Name:        r.text("name"),
		Description: r.text("description"),
		Price:       r.money("price"),
		CategoryID:  r.integer("category_id"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

func DecodeOrder(f models.Fields) (models.Record, error) {
	r := &row{f: f}
	o := &models.Order{
		ID:          r.key(),
		UserID:      r.integer("user_id"),
		Status:      r.text("status"),
		TotalAmount: r.money("total_amount"),
		CreatedAt:   r.instant("created_at"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return o, nil
}

func DecodeOrderItem(f models.Fields) (models.Record, error) {
	r := &row{f: f}
	i := &models.OrderItem{
		ID:        r.key(),
		OrderID:   r.integer("order_id"),
		ProductID: r.integer("product_id"),
		Quantity:  r.integer("quantity"),
		Price:     r.money("price"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return i, nil
}

func DecodeProductCategory(f models.Fields) (models.Record, error) {
	r := &row{f: f}
	c := &models.ProductCategory{
		ID:   r.key(),
		Name: r.text("name"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}

package model

import (
	"fmt"
	"slices"
	"time"
)

// EntityKind описывает тип сущности с ограниченным сроком действия.
type EntityKind string

const (
	KindAdvertisement     EntityKind = "advertisement"
	KindMembership        EntityKind = "membership"
	KindCommercialPartner EntityKind = "commercial_partner"
	KindPromoCode         EntityKind = "promo_code"
)

// EntityKinds перечисляет все истекающие сущности.
var EntityKinds = []EntityKind{KindAdvertisement, KindMembership, KindCommercialPartner, KindPromoCode}

var kindAliases = map[string]EntityKind{
	"ads":                KindAdvertisement,
	"advertisement":      KindAdvertisement,
	"advertisements":     KindAdvertisement,
	"membership":         KindMembership,
	"memberships":        KindMembership,
	"partner":            KindCommercialPartner,
	"partners":           KindCommercialPartner,
	"commercial_partner": KindCommercialPartner,
	"promo":              KindPromoCode,
	"promo_code":         KindPromoCode,
	"promo_codes":        KindPromoCode,
}

// ParseEntityKind разбирает тип сущности, допуская короткие имена (ads, partners, promo).
func ParseEntityKind(s string) (EntityKind, error) {
	k, ok := kindAliases[s]
	if !ok {
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
	return k, nil
}

// Status описывает нормализованный статус истекающей сущности.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusSuspended Status = "suspended"
	StatusInactive  Status = "inactive"
	StatusExpired   Status = "expired"
)

// transitions задаёт допустимые переходы статусов для каждого типа сущности.
var transitions = map[EntityKind]map[Status][]Status{
	KindAdvertisement: {
		StatusPending: {StatusActive, StatusRejected},
		StatusActive:  {StatusPaused, StatusExpired},
		StatusPaused:  {StatusActive, StatusExpired},
		StatusExpired: {StatusActive},
	},
	KindMembership: {
		StatusActive:  {StatusCancelled, StatusExpired},
		StatusExpired: {StatusActive},
	},
	KindCommercialPartner: {
		StatusActive:    {StatusSuspended, StatusExpired},
		StatusSuspended: {StatusActive, StatusExpired},
		StatusExpired:   {StatusActive},
	},
	KindPromoCode: {
		StatusActive:   {StatusInactive, StatusExpired},
		StatusInactive: {StatusActive, StatusExpired},
		StatusExpired:  {StatusActive},
	},
}

// CanTransition сообщает, допустим ли переход статуса для данного типа сущности.
func CanTransition(kind EntityKind, from, to Status) bool {
	return slices.Contains(transitions[kind][from], to)
}

// ExpirableStatuses возвращает статусы, из которых сущность может перейти в expired.
func ExpirableStatuses(kind EntityKind) []Status {
	var res []Status
	for from, tos := range transitions[kind] {
		if slices.Contains(tos, StatusExpired) {
			res = append(res, from)
		}
	}
	slices.Sort(res)
	return res
}

// ListingType задаёт тег опубликованного содержимого объявления.
type ListingType string

// ListingTypes перечисляет известные типы публикаций.
var ListingTypes = []ListingType{
	"hotel", "tour_guide", "tour_package", "travel_partner", "vehicle_rental",
	"taxi_driver", "event", "restaurant", "cafe", "live_ride", "crypto_consultant",
	"donation", "job_opportunity", "caregiver", "exclusive_combo", "local_sim",
	"foreign_money_exchange", "book_and_earn", "professional_lawyer", "professional_doctor",
}

// ContentRef ссылается на опубликованное содержимое объявления по типу и идентификатору.
type ContentRef struct {
	Type ListingType `json:"type"`
	ID   int64       `json:"id"`
}

// Valid сообщает, известен ли тип публикации.
func (r ContentRef) Valid() bool {
	return r.ID > 0 && slices.Contains(ListingTypes, r.Type)
}

// Expirable описывает истекающую сущность в общем виде, с которым работает чистильщик.
type Expirable struct {
	Kind        EntityKind
	ID          int64
	Owner       Recipient
	Label       string
	Status      Status
	ExpiresAt   time.Time
	WarningSent bool
	ExpiredSent bool
	Content     *ContentRef
}

// NeedsWarning сообщает, попадает ли сущность в окно предупреждения (now+minLead, now+maxLead].
func (e Expirable) NeedsWarning(now time.Time, minLead, maxLead time.Duration) bool {
	if e.WarningSent || e.Status == StatusExpired {
		return false
	}
	left := e.ExpiresAt.Sub(now)
	return left > minLead && left <= maxLead
}

// NeedsExpiry сообщает, должна ли сущность быть переведена в expired или получить уведомление об истечении.
// Флаг ExpiredSent защищает только письмо: запись в другом статусе с установленным флагом всё равно истекает.
func (e Expirable) NeedsExpiry(now time.Time) bool {
	if !now.After(e.ExpiresAt) {
		return false
	}
	if e.Status == StatusExpired {
		return !e.ExpiredSent
	}
	return CanTransition(e.Kind, e.Status, StatusExpired)
}

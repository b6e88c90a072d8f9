package broker

import (
	"github.com/zllovesuki/storecheckout/spec/broker"

	extErrors "github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/structpb"
)

// Encode turns e into the protobuf Struct carried on the wire
func Encode(e broker.CheckoutEvent) (*structpb.Struct, error) {
	attrs := make(map[string]interface{}, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	fields := map[string]interface{}{
		"kind":       e.Kind,
		"attempt_id": e.AttemptID,
		"shop_id":    e.ShopID,
		"seller_id":  e.SellerID,
		"email":      e.Email,
		"path":       e.Path,
		"state":      e.State,
		"attributes": attrs,
	}
	if e.Error != "" {
		fields["error"] = e.Error
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot build event payload")
	}
	return s, nil
}

// Decode reads an event encoded by Encode
func Decode(s *structpb.Struct) broker.CheckoutEvent {
	f := s.GetFields()
	str := func(k string) string {
		return f[k].GetStringValue()
	}
	e := broker.CheckoutEvent{
		Kind:       str("kind"),
		AttemptID:  str("attempt_id"),
		ShopID:     str("shop_id"),
		SellerID:   str("seller_id"),
		Email:      str("email"),
		Path:       str("path"),
		State:      str("state"),
		Error:      str("error"),
		Attributes: map[string]string{},
	}
	for k, v := range f["attributes"].GetStructValue().GetFields() {
		e.Attributes[k] = v.GetStringValue()
	}
	return e
}

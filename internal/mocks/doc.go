// Package mocks provides reusable test doubles for the service interfaces
// the HTTP layer depends on. Each mock has a function field per method;
// when the field is nil the mock returns its default values.
//
//	jwt := &mocks.MockJWTService{
//	    Claims: &auth.Claims{Operator: "alice", Role: auth.RoleOperator},
//	}
package mocks

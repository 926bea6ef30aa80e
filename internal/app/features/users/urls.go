// internal/app/features/users/urls.go
package users

import (
	"net/http"

	"github.com/dalemusser/userauth/internal/app/system/routetable"
)

// Namespaces of the two routers the users app composes.
const (
	NamespaceAuth         = "auth"
	NamespaceRegistration = "registration"
)

// URLs is the users app's route table. The auth router owns the root
// prefix; the registration router owns registration/. The order is fixed.
func URLs(auth, registration http.Handler) *routetable.Table {
	return routetable.MustNew(
		routetable.Entry{Prefix: "", Name: NamespaceAuth, Handler: auth},
		routetable.Entry{Prefix: "registration/", Name: NamespaceRegistration, Handler: registration},
	)
}

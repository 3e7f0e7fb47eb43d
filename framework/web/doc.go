// Package web routes HTTP requests to methods of container beans.
//
// A bean implementing Handler declares its routes with a Mapping. The Table,
// registered as a resolved processor, maps every Handler of the context:
// each category pattern is joined with each method pattern, so category
// "users" and pattern "${id}" give "/users/${id}". Path variables may carry
// a literal prefix and suffix ("avatar-${size}.png"), and a final "*"
// matches any last segment.
//
// The Dispatcher serves the table under the API mapping. For every request
// it builds an HttpContext, binds each declared Param from its location,
// calls the method and writes the result: JSON for JSON content types
// (wrapped as {"code":0,"message":"success","data":...} on request), text
// otherwise, or a rendered view for View handlers returning a name.
//
// Handlers fail with a *HandlerError to pick the status:
//
//	func (c *UserController) Get(id int64) (*User, error) {
//		u, ok := c.Users.Find(id)
//		if !ok {
//			return nil, web.Errorf(http.StatusNotFound, "user %d not found", id)
//		}
//		return u, nil
//	}
package web

package validate

import "github.com/serialexp/binschema/schema"

// checkNameHygiene enforces that every type name and field name is a plain
// identifier: this keeps annotator labels and error paths unambiguous and
// matches spec.md §4.2's name-hygiene rule category.
func (v *validator) checkNameHygiene() {
	for name, def := range v.schema.Types {
		if !identPattern.MatchString(name) {
			v.fail(schema.CodeInvalidName, name, "", "type name %q is not a valid identifier", name)
		}
		if def == nil {
			v.fail(schema.CodeInvalidName, name, "", "type has a nil definition")
			continue
		}
		if def.IsComposite() {
			v.checkCompositeNames(name, def.Composite)
		}
	}
}

func (v *validator) checkCompositeNames(typeName string, c *schema.CompositeType) {
	seen := map[string]bool{}
	for _, f := range c.Sequence {
		if f.Name == "" {
			continue
		}
		if !identPattern.MatchString(f.Name) {
			v.fail(schema.CodeInvalidName, typeName, f.Name, "field name %q is not a valid identifier", f.Name)
		}
		if seen[f.Name] {
			v.fail(schema.CodeDuplicateField, typeName, f.Name, "field %q declared more than once", f.Name)
		}
		seen[f.Name] = true
	}
	for _, inst := range c.Instances {
		if !identPattern.MatchString(inst.Name) {
			v.fail(schema.CodeInvalidName, typeName, inst.Name, "instance name %q is not a valid identifier", inst.Name)
		}
		if seen[inst.Name] {
			v.fail(schema.CodeDuplicateField, typeName, inst.Name, "instance %q collides with a sequence field", inst.Name)
		}
		seen[inst.Name] = true
	}
}

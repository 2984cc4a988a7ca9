// Package geometry is the pure-math kernel of the eye model: ellipses,
// circles, spheres and lines, and the projections between the image plane
// and the camera frame.
//
// Camera frame: pinhole at the origin looking down +z, image plane at
// z = focal length, x to the right and y pointing down. A camera-frame point
// (X, Y, Z) projects to (f·X/Z, f·Y/Z) in optical-axis-centered image
// coordinates. Pixel coordinates are obtained by adding (width/2, height/2).
//
// Unprojected pupil normals always face the camera (n·c < 0), so a gaze
// vector points from the eyeball center towards the pupil.
//
// No state is kept here; every function is safe for concurrent use.
package geometry
